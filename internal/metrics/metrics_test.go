package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ObserveStage("ocr", "succeeded", 3*time.Second)
	m.ObserveStage("ner", "skipped", 0)
	m.AddPages(4)
	done := m.RunStarted()
	done(true)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	out := string(body)
	assert.Contains(t, out, `docintel_stage_outcomes_total{stage="ocr",status="succeeded"} 1`)
	assert.Contains(t, out, `docintel_stage_outcomes_total{stage="ner",status="skipped"} 1`)
	assert.Contains(t, out, `docintel_rasterized_pages_total 4`)
	assert.Contains(t, out, `docintel_runs_total{result="complete"} 1`)
	assert.Contains(t, out, `docintel_runs_in_progress 0`)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveStage("ocr", "failed", time.Second)
	m.AddPages(1)
	m.RunStarted()(false)
}

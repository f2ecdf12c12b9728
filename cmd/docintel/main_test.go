package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/adverant/nexus/docintel/internal/processor"
	"github.com/adverant/nexus/docintel/internal/registry"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	color.NoColor = true
}

func TestPrintModels(t *testing.T) {
	models, err := registry.Load("")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, printModels(&buf, models))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1+len(models.Models()))
	assert.True(t, strings.HasPrefix(lines[0], "Model"))
	assert.Contains(t, lines[0], "Model Page")
	assert.Contains(t, buf.String(), "c60c8dbd79")
}

func TestPrintResultComplete(t *testing.T) {
	lang, summary := "English", "Quarterly report."
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := &processor.Result{
		RunID:      "run-1",
		Document:   "report.pdf",
		PageCount:  2,
		StartedAt:  start,
		FinishedAt: start.Add(3 * time.Second),
		Language:   &lang,
		Summary:    &summary,
		Topics:     json.RawMessage(`["finance"]`),
		Entities: []processor.Entity{
			{Text: "Alice", Category: "PERSON"},
			{Text: "Paris", Category: "LOC"},
			{Text: "Bob", Category: "PERSON"},
		},
	}

	var buf bytes.Buffer
	printResult(&buf, r)
	out := buf.String()
	assert.Contains(t, out, "report.pdf")
	assert.Contains(t, out, "Language: English")
	assert.Contains(t, out, "finance")
	assert.Contains(t, out, "Entities: 3")
	assert.Regexp(t, `PERSON\s+2`, out)
	assert.NotContains(t, out, "Incomplete stages")
}

func TestPrintResultPartial(t *testing.T) {
	r := &processor.Result{
		Document: "scan.png",
		Stages: []processor.StageOutcome{
			{Stage: processor.StageOCR, Status: processor.StatusSucceeded},
			{Stage: processor.StageLanguage, Status: processor.StatusFailed, Error: "job failed", JobURL: "https://inference.test/operations/jobs/j1"},
		},
	}

	var buf bytes.Buffer
	printResult(&buf, r)
	out := buf.String()
	assert.Contains(t, out, "Language: (not available)")
	assert.Contains(t, out, "Entities: (not available)")
	assert.Contains(t, out, "Language ID (failed): job failed")
	assert.Contains(t, out, "https://inference.test/operations/jobs/j1")
}

func TestTerminalReporter(t *testing.T) {
	var buf bytes.Buffer
	rep := &terminalReporter{out: &buf}

	rep.StageStarted("r", processor.StageNER)
	rep.StageFailed("r", processor.StageOutcome{Stage: processor.StageNER, Error: "timed out", JobURL: "https://x/jobs/1"})
	rep.StageSkipped("r", processor.StageOutcome{Stage: processor.StageTopics, Error: "OCR did not succeed"})

	out := buf.String()
	assert.Contains(t, out, "Running NER Model")
	assert.Contains(t, out, "Error with NER Job: timed out")
	assert.Contains(t, out, "View job page for more information: https://x/jobs/1")
	assert.Contains(t, out, "Text Topic skipped: OCR did not succeed")
}

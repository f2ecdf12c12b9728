package server

import (
	"html/template"
	"io"
	"net/http"
	"sync"

	"github.com/adverant/nexus/docintel/internal/logging"
	"github.com/adverant/nexus/docintel/internal/processor"
)

type stageLine struct {
	Title  string
	Error  string
	JobURL string
}

// htmlReporter writes one status line per stage event and flushes it so
// the browser shows progress while the pipeline runs.
type htmlReporter struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	tmpl    *template.Template
	logger  *logging.Logger
	gone    bool
}

func newHTMLReporter(w http.ResponseWriter, tmpl *template.Template, logger *logging.Logger) *htmlReporter {
	f, _ := w.(http.Flusher)
	return &htmlReporter{w: w, flusher: f, tmpl: tmpl, logger: logger}
}

func (h *htmlReporter) render(name string, data interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Once the client is gone the run continues; only the writes stop.
	if h.gone {
		return
	}
	if err := h.tmpl.ExecuteTemplate(h.w, name, data); err != nil {
		h.gone = true
		h.logger.Debug("Progress stream closed", "template", name, "error", err)
		return
	}
	if h.flusher != nil {
		h.flusher.Flush()
	}
}

func (h *htmlReporter) StageStarted(_ string, stage processor.Stage) {
	h.render("stage_started", stageLine{Title: stage.Title()})
}

func (h *htmlReporter) StageSucceeded(_ string, o processor.StageOutcome) {
	h.render("stage_succeeded", stageLine{Title: o.Stage.Title()})
}

func (h *htmlReporter) StageFailed(_ string, o processor.StageOutcome) {
	h.render("stage_failed", stageLine{Title: o.Stage.Title(), Error: o.Error, JobURL: o.JobURL})
}

func (h *htmlReporter) StageSkipped(_ string, o processor.StageOutcome) {
	h.render("stage_skipped", stageLine{Title: o.Stage.Title(), Error: o.Error})
}

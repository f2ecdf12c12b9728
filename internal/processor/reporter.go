package processor

import (
	"sync"

	"github.com/adverant/nexus/docintel/internal/logging"
)

// Reporter receives stage progress as the pipeline runs. Calls for one run
// are serialized even when stages fan out.
type Reporter interface {
	StageStarted(runID string, stage Stage)
	StageSucceeded(runID string, outcome StageOutcome)
	StageFailed(runID string, outcome StageOutcome)
	StageSkipped(runID string, outcome StageOutcome)
}

// LogReporter writes stage progress to the structured log.
type LogReporter struct {
	logger *logging.Logger
}

// NewLogReporter creates a reporter logging under the given prefix.
func NewLogReporter(prefix string) *LogReporter {
	return &LogReporter{logger: logging.NewLogger(prefix)}
}

func (r *LogReporter) StageStarted(runID string, stage Stage) {
	r.logger.Info("Stage started", "runId", runID, "stage", stage)
}

func (r *LogReporter) StageSucceeded(runID string, o StageOutcome) {
	r.logger.Info("Stage complete", "runId", runID, "stage", o.Stage, "jobId", o.JobID, "duration", o.Duration)
}

func (r *LogReporter) StageFailed(runID string, o StageOutcome) {
	r.logger.Error("Stage failed", "runId", runID, "stage", o.Stage, "jobUrl", o.JobURL, "error", o.Err)
}

func (r *LogReporter) StageSkipped(runID string, o StageOutcome) {
	r.logger.Warn("Stage skipped", "runId", runID, "stage", o.Stage, "error", o.Err)
}

// MultiReporter fans progress out to several reporters in order.
type MultiReporter []Reporter

func (m MultiReporter) StageStarted(runID string, stage Stage) {
	for _, r := range m {
		r.StageStarted(runID, stage)
	}
}

func (m MultiReporter) StageSucceeded(runID string, o StageOutcome) {
	for _, r := range m {
		r.StageSucceeded(runID, o)
	}
}

func (m MultiReporter) StageFailed(runID string, o StageOutcome) {
	for _, r := range m {
		r.StageFailed(runID, o)
	}
}

func (m MultiReporter) StageSkipped(runID string, o StageOutcome) {
	for _, r := range m {
		r.StageSkipped(runID, o)
	}
}

// lockedReporter serializes calls into a reporter that is not goroutine safe.
type lockedReporter struct {
	mu   sync.Mutex
	next Reporter
}

func (l *lockedReporter) StageStarted(runID string, stage Stage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next.StageStarted(runID, stage)
}

func (l *lockedReporter) StageSucceeded(runID string, o StageOutcome) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next.StageSucceeded(runID, o)
}

func (l *lockedReporter) StageFailed(runID string, o StageOutcome) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next.StageFailed(runID, o)
}

func (l *lockedReporter) StageSkipped(runID string, o StageOutcome) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next.StageSkipped(runID, o)
}

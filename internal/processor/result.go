package processor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Stage identifies one pipeline stage
type Stage string

// Pipeline stages in execution order
const (
	StageOCR       Stage = "ocr"
	StageLanguage  Stage = "language"
	StageSummarize Stage = "summarize"
	StageTopics    Stage = "topics"
	StageNER       Stage = "ner"
)

// Stages lists every stage in execution order.
var Stages = []Stage{StageOCR, StageLanguage, StageSummarize, StageTopics, StageNER}

// Title is the stage's display name.
func (s Stage) Title() string {
	switch s {
	case StageOCR:
		return "OCR"
	case StageLanguage:
		return "Language ID"
	case StageSummarize:
		return "Text Summary"
	case StageTopics:
		return "Text Topic"
	case StageNER:
		return "NER"
	}
	return string(s)
}

// StageStatus is the terminal state of a stage
type StageStatus string

const (
	StatusSucceeded StageStatus = "succeeded"
	StatusFailed    StageStatus = "failed"
	StatusSkipped   StageStatus = "skipped"
)

// StageOutcome records how one stage ended
type StageOutcome struct {
	Stage     Stage         `json:"stage"`
	Status    StageStatus   `json:"status"`
	JobID     string        `json:"job_id,omitempty"`
	JobURL    string        `json:"job_url,omitempty"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	Err error `json:"-"`
}

// Succeeded reports whether the stage produced its output.
func (o StageOutcome) Succeeded() bool {
	return o.Status == StatusSucceeded
}

// Entity is one recognised named entity
type Entity struct {
	Text     string `json:"entity"`
	Category string `json:"category"`
}

// UnmarshalJSON accepts both the [entity, category] pair form and objects.
func (e *Entity) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err == nil {
		if len(pair) != 2 {
			return fmt.Errorf("entity pair must have 2 elements, got %d", len(pair))
		}
		e.Text, e.Category = pair[0], pair[1]
		return nil
	}

	var obj struct {
		Entity   string `json:"entity"`
		Text     string `json:"text"`
		Category string `json:"category"`
		Label    string `json:"label"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("unrecognised entity record: %s", string(data))
	}
	e.Text = obj.Entity
	if e.Text == "" {
		e.Text = obj.Text
	}
	e.Category = obj.Category
	if e.Category == "" {
		e.Category = obj.Label
	}
	return nil
}

// Result is the bundle of one pipeline run. An output slot is empty when the
// stage that fills it did not succeed.
type Result struct {
	RunID      string    `json:"run_id"`
	Document   string    `json:"document"`
	PageCount  int       `json:"page_count"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Language *string         `json:"language,omitempty"`
	Summary  *string         `json:"summary,omitempty"`
	Topics   json.RawMessage `json:"topics,omitempty"`
	// Entities is nil unless NER succeeded; a document without entities has an empty, non-nil list.
	Entities []Entity `json:"entities"`

	Stages []StageOutcome `json:"stages"`
}

// HasTopics reports whether the topics slot is filled. A JSON null counts as empty.
func (r *Result) HasTopics() bool {
	return !isNullJSON(r.Topics)
}

func isNullJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// Complete reports whether all four dashboard slots are filled.
func (r *Result) Complete() bool {
	return r != nil && r.Language != nil && r.Summary != nil && r.HasTopics() && r.Entities != nil
}

// Outcome returns the recorded outcome of a stage.
func (r *Result) Outcome(stage Stage) (StageOutcome, bool) {
	for _, o := range r.Stages {
		if o.Stage == stage {
			return o, true
		}
	}
	return StageOutcome{}, false
}

// Failed lists the stages that failed or were skipped.
func (r *Result) Failed() []StageOutcome {
	var out []StageOutcome
	for _, o := range r.Stages {
		if !o.Succeeded() {
			out = append(out, o)
		}
	}
	return out
}

/**
 * Inference Pipeline - scanned pages → language, summary, topics, entities
 *
 * Stages run in a fixed order, each blocking until its remote job finishes:
 * - Stage 1: OCR over every page image (remote model or local Tesseract)
 * - Stage 2: language identification on the full text
 * - Stage 3: summarization on the full text (no timeout ceiling)
 * - Stage 4: topic modeling on the full text (no timeout ceiling)
 * - Stage 5: named-entity recognition per page (bounded timeout)
 *
 * Every stage ends in a StageOutcome. A failed stage never halts the run;
 * stages that need OCR text are skipped when OCR did not succeed. Stages 2-4
 * may run concurrently when fan-out is enabled; their results land in fixed
 * slots so the bundle does not depend on completion order.
 */

package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adverant/nexus/docintel/internal/clients"
	apperrors "github.com/adverant/nexus/docintel/internal/errors"
	"github.com/adverant/nexus/docintel/internal/logging"
	"github.com/adverant/nexus/docintel/internal/metrics"
	"github.com/adverant/nexus/docintel/internal/rasterizer"
	"github.com/adverant/nexus/docintel/internal/registry"
	"golang.org/x/sync/errgroup"
)

// Output file names used by the hosted models
const (
	resultsFile = "results.json"
	textInput   = "input.txt"
)

// PipelineConfig holds pipeline behaviour
type PipelineConfig struct {
	// JobConfigPath is uploaded as config.json next to every OCR page.
	JobConfigPath string
	SubmitPause   time.Duration
	NERTimeout    time.Duration
	FanOut        bool
}

// PageRecognizer runs OCR locally on one page image.
type PageRecognizer interface {
	Recognize(ctx context.Context, imagePath string) (string, error)
}

// Pipeline runs the inference stages for one document at a time
type Pipeline struct {
	client  clients.InferenceAPI
	models  *registry.Registry
	config  PipelineConfig
	local   PageRecognizer
	metrics *metrics.Metrics
	logger  *logging.Logger
}

// NewPipeline creates a pipeline over a resolved model registry
func NewPipeline(client clients.InferenceAPI, models *registry.Registry, cfg PipelineConfig) (*Pipeline, error) {
	if client == nil {
		return nil, fmt.Errorf("inference client is required")
	}
	if models == nil || !models.Resolved() {
		return nil, fmt.Errorf("model registry must be resolved before building the pipeline")
	}
	if cfg.NERTimeout <= 0 {
		cfg.NERTimeout = 600 * time.Second
	}
	return &Pipeline{
		client: client,
		models: models,
		config: cfg,
		logger: logging.NewLogger("Pipeline"),
	}, nil
}

// WithLocalOCR replaces the remote OCR model with a local recognizer.
func (p *Pipeline) WithLocalOCR(r PageRecognizer) *Pipeline {
	p.local = r
	return p
}

// WithMetrics records stage outcomes on m.
func (p *Pipeline) WithMetrics(m *metrics.Metrics) *Pipeline {
	p.metrics = m
	return p
}

// Run executes every stage over the page images and returns the bundle.
// Stage failures are reported through the outcomes, not the error; the error
// is reserved for calls that cannot start a run at all.
func (p *Pipeline) Run(ctx context.Context, runID, document string, pages []rasterizer.PageImage, reporter Reporter) (*Result, error) {
	if len(pages) == 0 {
		return nil, fmt.Errorf("run %s: no pages to process", runID)
	}
	if reporter == nil {
		reporter = MultiReporter{}
	}
	rep := &lockedReporter{next: reporter}

	result := &Result{
		RunID:     runID,
		Document:  document,
		PageCount: len(pages),
		StartedAt: time.Now(),
	}
	p.logger.Printf("[Run %s] Starting pipeline for %s (%d pages)", runID, document, len(pages))

	// Stage 1: OCR
	p.logger.Printf("[Run %s] Stage 1: Running OCR on %d pages", runID, len(pages))
	var text *OCRText
	ocr := p.stage(ctx, runID, StageOCR, rep, "", func(ctx context.Context) (string, error) {
		var jobID string
		var err error
		text, jobID, err = p.runOCR(ctx, pages)
		return jobID, err
	})
	upstream := ""
	if !ocr.Succeeded() {
		upstream = string(StageOCR)
	} else {
		p.logger.Printf("[Run %s] OCR complete: pages=%d, characters=%d", runID, len(text.Keys), len(text.FullText))
	}

	// Stages 2-4 read only the full text
	var language, summary string
	var topics json.RawMessage
	independent := []struct {
		stage Stage
		run   func(ctx context.Context) (string, error)
	}{
		{StageLanguage, func(ctx context.Context) (string, error) {
			var jobID string
			var err error
			language, jobID, err = p.runLanguage(ctx, text.FullText)
			return jobID, err
		}},
		{StageSummarize, func(ctx context.Context) (string, error) {
			var jobID string
			var err error
			summary, jobID, err = p.runSummary(ctx, text.FullText)
			return jobID, err
		}},
		{StageTopics, func(ctx context.Context) (string, error) {
			var jobID string
			var err error
			topics, jobID, err = p.runTopics(ctx, text.FullText)
			return jobID, err
		}},
	}
	outcomes := make([]StageOutcome, len(independent))

	if p.config.FanOut && upstream == "" {
		p.logger.Printf("[Run %s] Stages 2-4: Running language, summary and topics concurrently", runID)
		var g errgroup.Group
		for i, s := range independent {
			g.Go(func() error {
				outcomes[i] = p.stage(ctx, runID, s.stage, rep, upstream, s.run)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, s := range independent {
			p.logger.Printf("[Run %s] Stage %d: Running %s", runID, i+2, s.stage.Title())
			outcomes[i] = p.stage(ctx, runID, s.stage, rep, upstream, s.run)
		}
	}

	// Stage 5: NER over per-page text
	p.logger.Printf("[Run %s] Stage 5: Running NER", runID)
	var entities []Entity
	ner := p.stage(ctx, runID, StageNER, rep, upstream, func(ctx context.Context) (string, error) {
		var jobID string
		var err error
		entities, jobID, err = p.runNER(ctx, text)
		return jobID, err
	})

	result.Stages = append([]StageOutcome{ocr}, outcomes...)
	result.Stages = append(result.Stages, ner)
	if outcomes[0].Succeeded() {
		result.Language = &language
	}
	if outcomes[1].Succeeded() {
		result.Summary = &summary
	}
	if outcomes[2].Succeeded() {
		result.Topics = topics
	}
	if ner.Succeeded() {
		result.Entities = entities
	}
	result.FinishedAt = time.Now()

	p.logger.Printf("[Run %s] Pipeline finished: complete=%v, failed_stages=%d, duration=%v",
		runID, result.Complete(), len(result.Failed()), result.FinishedAt.Sub(result.StartedAt))
	return result, nil
}

// stage runs fn as one stage, or records a skip when upstream is set.
func (p *Pipeline) stage(ctx context.Context, runID string, stage Stage, rep Reporter, upstream string, fn func(context.Context) (string, error)) StageOutcome {
	outcome := StageOutcome{Stage: stage, StartedAt: time.Now()}

	if upstream != "" {
		outcome.Status = StatusSkipped
		outcome.Err = apperrors.NewStageSkippedError(runID, string(stage), upstream)
		outcome.Error = outcome.Err.Error()
		rep.StageSkipped(runID, outcome)
		p.metrics.ObserveStage(string(stage), string(outcome.Status), 0)
		return outcome
	}

	rep.StageStarted(runID, stage)
	jobID, err := fn(ctx)
	outcome.Duration = time.Since(outcome.StartedAt)
	outcome.JobID = jobID
	if jobID != "" {
		outcome.JobURL = p.client.JobURL(jobID)
	}

	if err != nil {
		outcome.Status = StatusFailed
		outcome.Err = apperrors.NewStageFailedError(runID, string(stage), outcome.JobURL, err)
		outcome.Error = outcome.Err.Error()
		p.logger.Printf("[Run %s] %s failed: %v", runID, stage.Title(), err)
		rep.StageFailed(runID, outcome)
	} else {
		outcome.Status = StatusSucceeded
		rep.StageSucceeded(runID, outcome)
	}
	p.metrics.ObserveStage(string(stage), string(outcome.Status), outcome.Duration)
	return outcome
}

// runOCR produces page text for every page, remotely or with the local engine.
func (p *Pipeline) runOCR(ctx context.Context, pages []rasterizer.PageImage) (*OCRText, string, error) {
	keys := make([]string, len(pages))
	for i, page := range pages {
		keys[i] = page.Key()
	}

	if p.local != nil {
		raw := make(map[string]string, len(pages))
		for _, page := range pages {
			text, err := p.local.Recognize(ctx, page.Path)
			if err != nil {
				return nil, "", fmt.Errorf("%s: %w", page.Key(), err)
			}
			raw[page.Key()] = text
		}
		return BuildOCRText(keys, raw), "", nil
	}

	sources := make(map[string]map[string]string, len(pages))
	for _, page := range pages {
		sources[page.Key()] = map[string]string{
			"input":       page.Path,
			"config.json": p.config.JobConfigPath,
		}
	}

	results, jobID, err := p.submit(ctx, registry.TaskOCR, sources, true, 0)
	if err != nil {
		return nil, jobID, err
	}

	raw := make(map[string]string, len(keys))
	for _, key := range keys {
		var out struct {
			Text string `json:"text"`
		}
		if err := decodeOutput(results, key, &out); err != nil {
			return nil, jobID, err
		}
		raw[key] = out.Text
	}
	return BuildOCRText(keys, raw), jobID, nil
}

func (p *Pipeline) runLanguage(ctx context.Context, fullText string) (string, string, error) {
	results, jobID, err := p.submit(ctx, registry.TaskLanguage, clients.TextSources(map[string]string{textInput: fullText}), false, 0)
	if err != nil {
		return "", jobID, err
	}

	var out struct {
		Data struct {
			Result struct {
				ClassPredictions []struct {
					Class string  `json:"class"`
					Score float64 `json:"score"`
				} `json:"classPredictions"`
			} `json:"result"`
		} `json:"data"`
	}
	if err := decodeOutput(results, clients.DefaultSource, &out); err != nil {
		return "", jobID, err
	}
	if len(out.Data.Result.ClassPredictions) == 0 {
		return "", jobID, fmt.Errorf("language model returned no class predictions")
	}
	return out.Data.Result.ClassPredictions[0].Class, jobID, nil
}

func (p *Pipeline) runSummary(ctx context.Context, fullText string) (string, string, error) {
	results, jobID, err := p.submit(ctx, registry.TaskSummarize, clients.TextSources(map[string]string{textInput: fullText}), false, 0)
	if err != nil {
		return "", jobID, err
	}

	var out struct {
		Summary *string `json:"summary"`
	}
	if err := decodeOutput(results, clients.DefaultSource, &out); err != nil {
		return "", jobID, err
	}
	if out.Summary == nil {
		return "", jobID, fmt.Errorf("summarization output has no summary field")
	}
	return *out.Summary, jobID, nil
}

func (p *Pipeline) runTopics(ctx context.Context, fullText string) (json.RawMessage, string, error) {
	results, jobID, err := p.submit(ctx, registry.TaskTopics, clients.TextSources(map[string]string{textInput: fullText}), false, 0)
	if err != nil {
		return nil, jobID, err
	}

	raw, err := output(results, clients.DefaultSource)
	if err != nil {
		return nil, jobID, err
	}
	if isNullJSON(raw) {
		return nil, jobID, fmt.Errorf("%s: %s holds no topics", clients.DefaultSource, resultsFile)
	}
	return append(json.RawMessage(nil), raw...), jobID, nil
}

// runNER submits every page, empty ones included, and flattens the entities
// in page order.
func (p *Pipeline) runNER(ctx context.Context, text *OCRText) ([]Entity, string, error) {
	results, jobID, err := p.submit(ctx, registry.TaskNames, text.NERSources(), false, p.config.NERTimeout)
	if err != nil {
		return nil, jobID, err
	}

	entities := make([]Entity, 0)
	for _, key := range text.Keys {
		var page []Entity
		if err := decodeOutput(results, key, &page); err != nil {
			return nil, jobID, err
		}
		entities = append(entities, page...)
	}
	return entities, jobID, nil
}

// submit sends one job for task, pauses briefly, then blocks until it finishes.
func (p *Pipeline) submit(ctx context.Context, task string, sources map[string]map[string]string, files bool, timeout time.Duration) (*clients.JobResults, string, error) {
	model, err := p.models.Lookup(task)
	if err != nil {
		return nil, "", err
	}

	var job *clients.Job
	if files {
		job, err = p.client.SubmitFileJob(ctx, model.Identifier, model.Version, sources)
	} else {
		job, err = p.client.SubmitTextJob(ctx, model.Identifier, model.Version, sources)
	}
	jobID := ""
	if job != nil {
		jobID = job.JobIdentifier
	}
	if err != nil {
		return nil, jobID, err
	}

	if p.config.SubmitPause > 0 {
		select {
		case <-ctx.Done():
			return nil, jobID, ctx.Err()
		case <-time.After(p.config.SubmitPause):
		}
	}

	results, err := p.client.BlockUntilComplete(ctx, job, timeout)
	if err != nil {
		return nil, jobID, err
	}
	return results, jobID, nil
}

// output returns a source's results.json, surfacing the service's failure message.
func output(results *clients.JobResults, source string) (json.RawMessage, error) {
	if raw, ok := results.Output(source, resultsFile); ok {
		return raw, nil
	}
	if msg, failed := results.FailureMessage(source); failed {
		return nil, fmt.Errorf("%s: %s", source, msg)
	}
	return nil, fmt.Errorf("%s: no %s in job results", source, resultsFile)
}

func decodeOutput(results *clients.JobResults, source string, v interface{}) error {
	raw, err := output(results, source)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%s: failed to parse %s: %w", source, resultsFile, err)
	}
	return nil
}

/**
 * Analysis Service - one upload, end to end
 *
 * - Step 1: rasterize the upload into page images
 * - Step 2: run the inference pipeline over the pages
 * - Step 3: remove the run's page directory
 * - Step 4: replace the session's stored bundle
 * - Step 5: record the run in the history (best effort)
 */

package analysis

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/adverant/nexus/docintel/internal/logging"
	"github.com/adverant/nexus/docintel/internal/metrics"
	"github.com/adverant/nexus/docintel/internal/processor"
	"github.com/adverant/nexus/docintel/internal/rasterizer"
	"github.com/adverant/nexus/docintel/internal/storage"
	"github.com/google/uuid"
)

// Runner is the pipeline as seen by the service.
type Runner interface {
	Run(ctx context.Context, runID, document string, pages []rasterizer.PageImage, reporter processor.Reporter) (*processor.Result, error)
}

// Rasterizer turns an upload into page images owned by one run.
type Rasterizer interface {
	Rasterize(ctx context.Context, runID, name string, src io.ReadSeeker) ([]rasterizer.PageImage, error)
	Cleanup(runID string) error
}

// Config holds service dependencies
type Config struct {
	Rasterizer Rasterizer
	Pipeline   Runner
	Store      storage.ResultStore
	History    storage.RunHistory
	Metrics    *metrics.Metrics
}

// Service runs uploads through the pipeline and stores the bundles
type Service struct {
	rasterizer Rasterizer
	pipeline   Runner
	store      storage.ResultStore
	history    storage.RunHistory
	metrics    *metrics.Metrics
	logger     *logging.Logger
}

// NewService creates a new analysis service
func NewService(cfg Config) (*Service, error) {
	if cfg.Rasterizer == nil {
		return nil, fmt.Errorf("rasterizer is required")
	}
	if cfg.Pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("result store is required")
	}
	if cfg.History == nil {
		cfg.History = storage.NopHistory{}
	}
	return &Service{
		rasterizer: cfg.Rasterizer,
		pipeline:   cfg.Pipeline,
		store:      cfg.Store,
		history:    cfg.History,
		metrics:    cfg.Metrics,
		logger:     logging.NewLogger("Analysis"),
	}, nil
}

// Analyze processes one document for a session. Stage failures are part of
// the returned bundle; an error means no bundle was produced or stored.
func (s *Service) Analyze(ctx context.Context, sessionID, name string, src io.ReadSeeker, reporter processor.Reporter) (*processor.Result, error) {
	runID := uuid.New().String()
	log := s.logger.With("runId", runID, "session", sessionID)

	// Step 1: Rasterize
	log.Printf("[Run %s] Step 1: Rasterizing %s", runID, name)
	pages, err := s.rasterizer.Rasterize(ctx, runID, name, src)
	if err != nil {
		return nil, err
	}
	s.metrics.AddPages(len(pages))
	defer func() {
		// Step 3: page images are transient
		if err := s.rasterizer.Cleanup(runID); err != nil {
			log.Warn("Failed to remove page images", "error", err)
		}
	}()

	// Step 2: Pipeline
	log.Printf("[Run %s] Step 2: Running pipeline over %d pages", runID, len(pages))
	done := s.metrics.RunStarted()
	result, err := s.pipeline.Run(ctx, runID, name, pages, reporter)
	if err != nil {
		done(false)
		return nil, err
	}
	done(result.Complete())

	// Step 4: Store
	log.Printf("[Run %s] Step 4: Storing results (complete=%v)", runID, result.Complete())
	if err := s.store.Save(ctx, sessionID, result); err != nil {
		return result, fmt.Errorf("failed to store results: %w", err)
	}

	// Step 5: History
	if err := s.history.RecordRun(ctx, sessionID, result); err != nil {
		log.Warn("Failed to record run history", "error", err)
	}

	return result, nil
}

// AnalyzeFile opens a local file and analyzes it.
func (s *Service) AnalyzeFile(ctx context.Context, sessionID, path string, reporter processor.Reporter) (*processor.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return s.Analyze(ctx, sessionID, filepath.Base(path), f, reporter)
}

// Results returns the session's stored bundle.
func (s *Service) Results(ctx context.Context, sessionID string) (*processor.Result, error) {
	return s.store.Load(ctx, sessionID)
}

// ClearResults drops the session's stored bundle.
func (s *Service) ClearResults(ctx context.Context, sessionID string) error {
	return s.store.Delete(ctx, sessionID)
}

// RecentRuns lists the latest runs from the history.
func (s *Service) RecentRuns(ctx context.Context, limit int) ([]storage.RunSummary, error) {
	return s.history.RecentRuns(ctx, limit)
}

// EnsureJobConfig creates the shared OCR job config with an empty object
// when it does not exist yet.
func EnsureJobConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat job config %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create job config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte("{}\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write job config %s: %w", path, err)
	}
	return nil
}

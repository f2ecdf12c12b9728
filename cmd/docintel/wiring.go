package main

import (
	"context"
	"fmt"

	"github.com/adverant/nexus/docintel/internal/analysis"
	"github.com/adverant/nexus/docintel/internal/clients"
	"github.com/adverant/nexus/docintel/internal/config"
	"github.com/adverant/nexus/docintel/internal/metrics"
	"github.com/adverant/nexus/docintel/internal/ocr"
	"github.com/adverant/nexus/docintel/internal/processor"
	"github.com/adverant/nexus/docintel/internal/rasterizer"
	"github.com/adverant/nexus/docintel/internal/registry"
	"github.com/adverant/nexus/docintel/internal/server"
	"github.com/adverant/nexus/docintel/internal/storage"
)

// app is everything a command needs to run documents through the pipeline.
type app struct {
	models  *registry.Registry
	metrics *metrics.Metrics
	service *analysis.Service
	store   storage.ResultStore
	history storage.RunHistory
	checks  map[string]server.Pinger
}

// resolveModels loads the registry and resolves every model against the
// inference service. Any failure is fatal for the caller.
func resolveModels(ctx context.Context, cfg *config.Config) (*registry.Registry, *clients.InferenceClient, error) {
	client := clients.NewInferenceClient(cfg.InferenceURL, cfg.InferenceAPIKey, cfg.PollInterval)

	models, err := registry.Load(cfg.ModelsFile)
	if err != nil {
		return nil, nil, err
	}

	logger.Info("Resolving models", "count", len(models.Models()), "inferenceUrl", client.BaseURL())
	if err := models.Resolve(ctx, client); err != nil {
		return nil, nil, err
	}
	return models, client, nil
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	// Step 1: Model registry
	models, client, err := resolveModels(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// Step 2: Shared OCR job config
	if err := analysis.EnsureJobConfig(cfg.JobConfigPath); err != nil {
		return nil, err
	}

	a := &app{
		models:  models,
		metrics: metrics.New(),
		checks:  map[string]server.Pinger{},
	}

	// Step 3: Pipeline
	pipeline, err := processor.NewPipeline(client, models, processor.PipelineConfig{
		JobConfigPath: cfg.JobConfigPath,
		SubmitPause:   cfg.SubmitPause,
		NERTimeout:    cfg.NERTimeout,
		FanOut:        cfg.PipelineFanOut,
	})
	if err != nil {
		return nil, err
	}
	pipeline.WithMetrics(a.metrics)
	if cfg.OCREngine == "tesseract" {
		logger.Info("Using local Tesseract OCR", "version", ocr.Version(), "languages", cfg.TesseractLanguages)
		pipeline.WithLocalOCR(ocr.NewTesseractOCR(&ocr.TesseractConfig{Languages: cfg.TesseractLanguages}))
	}

	// Step 4: Result store
	switch cfg.ResultStore {
	case "redis":
		rs, err := storage.NewRedisStore(ctx, cfg.RedisURL, cfg.SessionTTL)
		if err != nil {
			return nil, err
		}
		a.store = rs
		a.checks["redis"] = rs
	default:
		a.store = storage.NewMemoryStore(cfg.SessionTTL)
	}

	// Step 5: Run history (optional)
	a.history = storage.NopHistory{}
	if cfg.DatabaseURL != "" {
		pg, err := storage.NewPostgresClient(ctx, cfg.DatabaseURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			a.Close()
			return nil, err
		}
		a.history = pg
		a.checks["postgres"] = pg
	}

	// Step 6: Analysis service
	a.service, err = analysis.NewService(analysis.Config{
		Rasterizer: rasterizer.New(cfg.ConvertedDir(), cfg.MaxPageDimension).WithDPI(cfg.PDFDPI),
		Pipeline:   pipeline,
		Store:      a.store,
		History:    a.history,
		Metrics:    a.metrics,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to build analysis service: %w", err)
	}
	return a, nil
}

// Close releases the store and history connections.
func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warn("Error closing result store", "error", err)
		}
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			logger.Warn("Error closing run history", "error", err)
		}
	}
}

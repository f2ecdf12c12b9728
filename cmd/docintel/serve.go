package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adverant/nexus/docintel/internal/server"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the pipeline page and the dashboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	logger.Printf("Document intelligence server starting...")
	logger.Printf("Configuration loaded: Listen=%s, OCR=%s, ResultStore=%s, FanOut=%v, History=%v",
		cfg.ListenAddr, cfg.OCREngine, cfg.ResultStore, cfg.PipelineFanOut, cfg.DatabaseURL != "")

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	srv, err := server.NewServer(server.Config{
		ListenAddr:      cfg.ListenAddr,
		MaxUploadSize:   cfg.MaxUploadSize,
		SessionTTL:      cfg.SessionTTL,
		DropTopCategory: cfg.DropTopCategory,
		OCREngine:       cfg.OCREngine,
	}, a.service, a.models, a.metrics, a.checks)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Printf("===========================================")
	logger.Printf("Document intelligence server is READY")
	logger.Printf("===========================================")
	for _, m := range a.models.Models() {
		logger.Printf("Model %-9s %s %s (%s)", m.Task, m.Identifier, m.Version, m.Name)
	}
	logger.Printf("===========================================")

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigChan:
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", "error", err)
	} else {
		logger.Printf("HTTP server stopped")
	}

	logger.Printf("Shutdown complete")
	return nil
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/adverant/nexus/docintel/internal/dashboard"
	apperrors "github.com/adverant/nexus/docintel/internal/errors"
	"github.com/adverant/nexus/docintel/internal/processor"
	"github.com/adverant/nexus/docintel/internal/registry"
	"github.com/adverant/nexus/docintel/internal/storage"
)

const (
	uploadField     = "document"
	multipartMemory = 32 << 20
	defaultRunLimit = 20
	maxRunLimit     = 100
)

type indexPage struct {
	Header []string
	Models []registry.ModelDescriptor
}

type analyzeStart struct {
	Document string
}

type analyzeEnd struct {
	Error    string
	Complete bool
	Ran      bool
}

type dashboardPage struct {
	View *dashboard.View
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, "index", indexPage{
		Header: registry.TableHeader,
		Models: s.models.Models(),
	})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if s.config.MaxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadSize)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "document exceeds the upload limit", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "invalid upload: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		http.Error(w, "no document uploaded", http.StatusBadRequest)
		return
	}
	defer file.Close()

	session := sessionID(r)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	reporter := newHTMLReporter(w, s.templates, s.logger)
	reporter.render("analyze_start", analyzeStart{Document: header.Filename})

	// The run finishes and stores its bundle even if the browser goes away.
	ctx := context.WithoutCancel(r.Context())
	result, err := s.service.Analyze(ctx, session, header.Filename, file, reporter)

	end := analyzeEnd{Ran: result != nil, Complete: result.Complete()}
	if err != nil {
		var pe *apperrors.ProcessingError
		if errors.As(err, &pe) {
			s.logger.Error("Analysis failed", "session", session, "document", header.Filename, "details", pe.ToMap())
		} else {
			s.logger.Error("Analysis failed", "session", session, "document", header.Filename, "error", err)
		}
		end.Error = describeError(err)
	}
	reporter.render("analyze_end", end)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	page := dashboardPage{}
	result, err := s.service.Results(r.Context(), sessionID(r))
	switch {
	case err == nil:
		if view, ok := dashboard.Build(result, s.dashboardOptions()); ok {
			page.View = view
		}
	case !errors.Is(err, storage.ErrNotFound):
		s.logger.Warn("Failed to load results", "session", sessionID(r), "error", err)
	}
	s.renderPage(w, "dashboard", page)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Results(r.Context(), sessionID(r))
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no results for this session"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleClearResults(w http.ResponseWriter, r *http.Request) {
	if err := s.service.ClearResults(r.Context(), sessionID(r)); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxRunLimit)
	}

	runs, err := s.service.RecentRuns(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if runs == nil {
		runs = []storage.RunSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	checks := map[string]string{}
	for name, p := range s.checks {
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	writeJSON(w, code, map[string]interface{}{
		"status":   status,
		"models":   s.models.Resolved(),
		"checks":   checks,
		"ocr":      s.config.OCREngine,
		"stages":   processor.Stages,
		"datetime": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) renderPage(w http.ResponseWriter, name string, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		s.logger.Error("Failed to render page", "template", name, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func describeError(err error) string {
	var pe *apperrors.ProcessingError
	if errors.As(err, &pe) {
		return pe.Message
	}
	return err.Error()
}

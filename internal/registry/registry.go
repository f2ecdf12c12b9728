// Package registry maps pipeline tasks to remote model identifiers and
// versions, resolved once against the inference service at startup.
package registry

import (
	"context"
	_ "embed"
	"fmt"
	"os"

	"github.com/adverant/nexus/docintel/internal/clients"
	apperrors "github.com/adverant/nexus/docintel/internal/errors"
	"github.com/adverant/nexus/docintel/internal/logging"
	"gopkg.in/yaml.v3"
)

// Task names used by the pipeline
const (
	TaskOCR       = "OCR"
	TaskNames     = "names"
	TaskSummarize = "summarize"
	TaskTopics    = "topics"
	TaskSentiment = "sentiment"
	TaskLanguage  = "language"
)

// requiredTasks must be present in every registry file.
var requiredTasks = []string{TaskOCR, TaskNames, TaskSummarize, TaskTopics, TaskSentiment, TaskLanguage}

//go:embed models.yaml
var defaultModels []byte

// ModelDescriptor describes the model serving one task
type ModelDescriptor struct {
	Task       string `yaml:"task" json:"task"`
	Identifier string `yaml:"id" json:"id"`
	Version    string `yaml:"version,omitempty" json:"version"`
	Name       string `yaml:"-" json:"name"`
	Link       string `yaml:"-" json:"link"`
}

// MetadataClient is what Resolve needs from the inference service.
type MetadataClient interface {
	GetModel(ctx context.Context, modelID string) (*clients.ModelInfo, error)
	BaseURL() string
}

// Registry holds the model descriptors in configuration order
type Registry struct {
	models   []ModelDescriptor
	byTask   map[string]int
	resolved bool
}

type registryFile struct {
	Models []ModelDescriptor `yaml:"models"`
}

// Load reads the registry from path, or the embedded defaults when path is empty.
func Load(path string) (*Registry, error) {
	if path == "" {
		return Parse(defaultModels)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read models file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a registry document.
func Parse(data []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse models file: %w", err)
	}

	r := &Registry{byTask: make(map[string]int, len(file.Models))}
	for _, m := range file.Models {
		if m.Task == "" || m.Identifier == "" {
			return nil, fmt.Errorf("model entry requires task and id: %+v", m)
		}
		if _, dup := r.byTask[m.Task]; dup {
			return nil, fmt.Errorf("duplicate model entry for task %s", m.Task)
		}
		r.byTask[m.Task] = len(r.models)
		r.models = append(r.models, m)
	}

	for _, task := range requiredTasks {
		if _, ok := r.byTask[task]; !ok {
			return nil, fmt.Errorf("models file is missing task %s", task)
		}
	}
	return r, nil
}

// Resolve fetches metadata for every model. Unpinned versions adopt the
// latest active version. Any failure aborts: a partial registry is invalid.
func (r *Registry) Resolve(ctx context.Context, client MetadataClient) error {
	logger := logging.NewLogger("Registry")

	resolved := make([]ModelDescriptor, len(r.models))
	copy(resolved, r.models)

	for i := range resolved {
		m := &resolved[i]
		info, err := client.GetModel(ctx, m.Identifier)
		if err != nil {
			return apperrors.NewRegistryResolutionError(m.Task, m.Identifier, err)
		}
		if m.Version == "" {
			if info.LatestActiveVersion == "" {
				return apperrors.NewRegistryResolutionError(m.Task, m.Identifier,
					fmt.Errorf("service reported no active version"))
			}
			m.Version = info.LatestActiveVersion
		}
		m.Name = info.Name
		m.Link = fmt.Sprintf("%s/models/%s/%s/overview", client.BaseURL(), m.Identifier, m.Version)

		logger.Info("Model resolved", "task", m.Task, "id", m.Identifier, "version", m.Version, "name", m.Name)
	}

	r.models = resolved
	r.resolved = true
	return nil
}

// Resolved reports whether Resolve has completed successfully.
func (r *Registry) Resolved() bool {
	return r.resolved
}

// Lookup returns the descriptor for a task.
func (r *Registry) Lookup(task string) (ModelDescriptor, error) {
	i, ok := r.byTask[task]
	if !ok {
		return ModelDescriptor{}, fmt.Errorf("no model registered for task %s", task)
	}
	return r.models[i], nil
}

// Models returns a copy of the descriptors in configuration order.
func (r *Registry) Models() []ModelDescriptor {
	out := make([]ModelDescriptor, len(r.models))
	copy(out, r.models)
	return out
}

// TableHeader names the reference table columns.
var TableHeader = []string{"Model", "Name", "Version", "Identifier", "Model Page"}

// Table returns one row per model, columns as in TableHeader.
func (r *Registry) Table() [][]string {
	rows := make([][]string, 0, len(r.models))
	for _, m := range r.models {
		rows = append(rows, []string{m.Task, m.Name, m.Version, m.Identifier, m.Link})
	}
	return rows
}

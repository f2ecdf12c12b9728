/**
 * Inference Client - remote model jobs over the inference service REST API
 *
 * The service runs each pretrained model as an asynchronous job:
 * - a job is submitted with text sources or uploaded files
 * - the job is polled until it reaches a terminal status
 * - results are fetched per input source ("job", "page0", "page1", ...)
 *
 * Transport, auth and polling live here; the pipeline treats this client as a
 * black box.
 */

package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	apperrors "github.com/adverant/nexus/docintel/internal/errors"
	"github.com/adverant/nexus/docintel/internal/logging"
)

// Job statuses reported by the inference service
const (
	JobStatusOpen       = "OPEN"
	JobStatusSubmitted  = "SUBMITTED"
	JobStatusInProgress = "IN_PROGRESS"
	JobStatusCompleted  = "COMPLETED"
	JobStatusCanceled   = "CANCELED"
	JobStatusTimedOut   = "TIMEDOUT"
)

// DefaultSource is the source key the service assigns to single-source text jobs.
const DefaultSource = "job"

// maxStatusFailures bounds consecutive failed status polls before giving up.
const maxStatusFailures = 5

// InferenceAPI is the subset of the client the registry and pipeline depend on.
type InferenceAPI interface {
	GetModel(ctx context.Context, modelID string) (*ModelInfo, error)
	SubmitTextJob(ctx context.Context, modelID, version string, sources map[string]map[string]string) (*Job, error)
	SubmitFileJob(ctx context.Context, modelID, version string, sources map[string]map[string]string) (*Job, error)
	BlockUntilComplete(ctx context.Context, job *Job, timeout time.Duration) (*JobResults, error)
	JobURL(jobID string) string
	BaseURL() string
}

// InferenceClient handles communication with the inference service
type InferenceClient struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	pollInterval time.Duration
	logger       *logging.Logger
}

// ModelInfo is the service's metadata for a model
type ModelInfo struct {
	ModelID             string   `json:"modelId"`
	Name                string   `json:"name"`
	Author              string   `json:"author,omitempty"`
	Description         string   `json:"description,omitempty"`
	LatestVersion       string   `json:"latestVersion"`
	LatestActiveVersion string   `json:"latestActiveVersion"`
	Versions            []string `json:"versions,omitempty"`
}

// Job is a submitted model job
type Job struct {
	JobIdentifier string    `json:"jobIdentifier"`
	ModelID       string    `json:"-"`
	Version       string    `json:"-"`
	SubmittedAt   time.Time `json:"-"`
}

// JobStatusResponse represents the response from polling /jobs/:id
type JobStatusResponse struct {
	JobIdentifier string `json:"jobIdentifier"`
	Status        string `json:"status"`
	Total         int    `json:"total"`
	Completed     int    `json:"completed"`
	Failed        int    `json:"failed"`
}

// JobResults holds per-source outputs of a finished job
type JobResults struct {
	JobIdentifier string                                `json:"jobIdentifier"`
	Finished      bool                                  `json:"finished"`
	Total         int                                   `json:"total"`
	Completed     int                                   `json:"completed"`
	Failed        int                                   `json:"failed"`
	Results       map[string]map[string]json.RawMessage `json:"results"`
	Failures      map[string]map[string]json.RawMessage `json:"failures,omitempty"`
}

// Output returns the named output file of a source, e.g. Output("job", "results.json").
func (r *JobResults) Output(source, name string) (json.RawMessage, bool) {
	if r == nil || r.Results == nil {
		return nil, false
	}
	outputs, ok := r.Results[source]
	if !ok {
		return nil, false
	}
	raw, ok := outputs[name]
	return raw, ok
}

// Sources returns the result source keys in sorted order.
func (r *JobResults) Sources() []string {
	keys := make([]string, 0, len(r.Results))
	for k := range r.Results {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FailureMessage returns the service's error for a failed source, if any.
func (r *JobResults) FailureMessage(source string) (string, bool) {
	if r == nil || r.Failures == nil {
		return "", false
	}
	f, ok := r.Failures[source]
	if !ok {
		return "", false
	}
	if raw, ok := f["error"]; ok {
		var msg string
		if err := json.Unmarshal(raw, &msg); err == nil {
			return msg, true
		}
		return string(raw), true
	}
	return "unknown failure", true
}

// TextSources wraps a flat name → value map as the single "job" source.
func TextSources(inputs map[string]string) map[string]map[string]string {
	return map[string]map[string]string{DefaultSource: inputs}
}

// NewInferenceClient creates a new inference service client
func NewInferenceClient(baseURL, apiKey string, pollInterval time.Duration) *InferenceClient {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &InferenceClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 120 * time.Second, // single request; long jobs are polled
		},
		pollInterval: pollInterval,
		logger:       logging.NewLogger("InferenceClient"),
	}
}

// BaseURL returns the configured service URL without a trailing slash.
func (c *InferenceClient) BaseURL() string {
	return c.baseURL
}

// JobURL is the job's page on the service, useful for diagnosing failures.
func (c *InferenceClient) JobURL(jobID string) string {
	return fmt.Sprintf("%s/operations/jobs/%s", c.baseURL, jobID)
}

// GetModel fetches model metadata
func (c *InferenceClient) GetModel(ctx context.Context, modelID string) (*ModelInfo, error) {
	var info ModelInfo
	if err := c.doJSON(ctx, "get-model", http.MethodGet, "/models/"+modelID, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

type jobModel struct {
	Identifier string `json:"identifier"`
	Version    string `json:"version"`
}

type jobInput struct {
	Type    string                       `json:"type"`
	Sources map[string]map[string]string `json:"sources,omitempty"`
}

type jobRequest struct {
	Model jobModel `json:"model"`
	Input jobInput `json:"input"`
}

// SubmitTextJob submits a job whose inputs are inline text values
func (c *InferenceClient) SubmitTextJob(ctx context.Context, modelID, version string, sources map[string]map[string]string) (*Job, error) {
	c.logger.Info("Submitting text job", "model", modelID, "version", version, "sources", len(sources))

	req := jobRequest{
		Model: jobModel{Identifier: modelID, Version: version},
		Input: jobInput{Type: "text", Sources: sources},
	}

	var job Job
	if err := c.doJSON(ctx, "submit-text", http.MethodPost, "/jobs", req, &job); err != nil {
		return nil, err
	}
	if job.JobIdentifier == "" {
		return nil, apperrors.NewAPICallFailedError("submit-text", 0, fmt.Errorf("service returned an empty job identifier"))
	}
	job.ModelID, job.Version, job.SubmittedAt = modelID, version, time.Now()

	c.logger.Info("Text job submitted", "jobId", job.JobIdentifier, "model", modelID)
	return &job, nil
}

// SubmitFileJob opens a job, uploads every source file, then closes the job
// so the service starts processing. Source values are local file paths.
func (c *InferenceClient) SubmitFileJob(ctx context.Context, modelID, version string, sources map[string]map[string]string) (*Job, error) {
	c.logger.Info("Submitting file job", "model", modelID, "version", version, "sources", len(sources))

	req := jobRequest{
		Model: jobModel{Identifier: modelID, Version: version},
		Input: jobInput{Type: "file"},
	}

	var job Job
	if err := c.doJSON(ctx, "open-job", http.MethodPost, "/jobs", req, &job); err != nil {
		return nil, err
	}
	if job.JobIdentifier == "" {
		return nil, apperrors.NewAPICallFailedError("open-job", 0, fmt.Errorf("service returned an empty job identifier"))
	}
	job.ModelID, job.Version = modelID, version

	sourceKeys := make([]string, 0, len(sources))
	for k := range sources {
		sourceKeys = append(sourceKeys, k)
	}
	sort.Strings(sourceKeys)

	for _, source := range sourceKeys {
		names := make([]string, 0, len(sources[source]))
		for n := range sources[source] {
			names = append(names, n)
		}
		sort.Strings(names)

		for _, name := range names {
			if err := c.uploadInput(ctx, job.JobIdentifier, source, name, sources[source][name]); err != nil {
				return &job, err
			}
		}
	}

	path := fmt.Sprintf("/jobs/%s/close", job.JobIdentifier)
	if err := c.doJSON(ctx, "close-job", http.MethodPost, path, nil, nil); err != nil {
		return &job, err
	}
	job.SubmittedAt = time.Now()

	c.logger.Info("File job submitted", "jobId", job.JobIdentifier, "model", modelID)
	return &job, nil
}

// uploadInput streams one local file into an open job as multipart form data
func (c *InferenceClient) uploadInput(ctx context.Context, jobID, source, name, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read input %s/%s from %s: %w", source, name, filePath, err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("value", filepath.Base(filePath))
	if err != nil {
		return fmt.Errorf("failed to create form file part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("failed to write file data to form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}

	endpoint := fmt.Sprintf("%s/jobs/%s/%s/%s", c.baseURL, jobID, source, name)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return fmt.Errorf("failed to create upload request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	c.setHeaders(httpReq, "upload")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return apperrors.NewAPICallFailedError("upload-input", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return apperrors.NewAPICallFailedError("upload-input", resp.StatusCode,
			fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)))
	}

	c.logger.Debug("Input uploaded", "jobId", jobID, "source", source, "name", name, "bytes", len(data))
	return nil
}

// GetJobStatus polls the status of a job
func (c *InferenceClient) GetJobStatus(ctx context.Context, jobID string) (*JobStatusResponse, error) {
	var status JobStatusResponse
	if err := c.doJSON(ctx, "job-status", http.MethodGet, "/jobs/"+jobID, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// GetResults fetches the results of a job
func (c *InferenceClient) GetResults(ctx context.Context, jobID string) (*JobResults, error) {
	var results JobResults
	if err := c.doJSON(ctx, "job-results", http.MethodGet, "/results/"+jobID, nil, &results); err != nil {
		return nil, err
	}
	return &results, nil
}

// BlockUntilComplete polls the job until it reaches a terminal status and
// returns its results. A zero timeout waits indefinitely.
func (c *InferenceClient) BlockUntilComplete(ctx context.Context, job *Job, timeout time.Duration) (*JobResults, error) {
	if job == nil || job.JobIdentifier == "" {
		return nil, fmt.Errorf("job identifier is required")
	}
	jobID := job.JobIdentifier

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	c.logger.Info("Waiting for job completion", "jobId", jobID, "timeout", timeout)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		status, err := c.GetJobStatus(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, c.waitError(ctx, jobID, timeout)
			}
			failures++
			c.logger.Warn("Failed to get job status", "jobId", jobID, "error", err, "attempt", failures)
			if failures >= maxStatusFailures {
				return nil, fmt.Errorf("job %s status unavailable after %d attempts: %w", jobID, failures, err)
			}
		} else {
			failures = 0
			c.logger.Debug("Job status update",
				"jobId", jobID,
				"status", status.Status,
				"completed", status.Completed,
				"total", status.Total)

			switch status.Status {
			case JobStatusCompleted:
				results, err := c.GetResults(ctx, jobID)
				if err != nil {
					return nil, err
				}
				c.logger.Info("Job completed", "jobId", jobID, "completed", results.Completed, "failed", results.Failed)
				return results, nil

			case JobStatusCanceled, JobStatusTimedOut:
				return nil, fmt.Errorf("job %s ended with status %s", jobID, status.Status)

			case JobStatusOpen, JobStatusSubmitted, JobStatusInProgress:
				// Continue polling

			default:
				c.logger.Warn("Unknown job status", "jobId", jobID, "status", status.Status)
			}
		}

		select {
		case <-ctx.Done():
			return nil, c.waitError(ctx, jobID, timeout)
		case <-ticker.C:
		}
	}
}

func (c *InferenceClient) waitError(ctx context.Context, jobID string, timeout time.Duration) error {
	if ctx.Err() == context.DeadlineExceeded && timeout > 0 {
		return apperrors.NewJobTimeoutError(jobID, timeout, ctx.Err())
	}
	return fmt.Errorf("context cancelled while waiting for job %s: %w", jobID, ctx.Err())
}

func (c *InferenceClient) setHeaders(req *http.Request, op string) {
	req.Header.Set("Authorization", "ApiKey "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", fmt.Sprintf("%s-%d", op, time.Now().UnixNano()))
}

// doJSON performs a JSON request and decodes a JSON response into out (if non-nil)
func (c *InferenceClient) doJSON(ctx context.Context, op, method, path string, in, out interface{}) error {
	var reader io.Reader
	if in != nil {
		reqBody, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(reqBody)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	c.setHeaders(httpReq, op)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return apperrors.NewAPICallFailedError(op, 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperrors.NewAPICallFailedError(op, resp.StatusCode,
			fmt.Errorf("status %d: %s", resp.StatusCode, string(body)))
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", op, err)
	}
	return nil
}

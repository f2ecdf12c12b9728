package errors

import (
	"errors"
	"fmt"
	"time"
)

/**
 * Custom error types for the document intelligence service
 *
 * Every failure that crosses a package boundary is a ProcessingError so the
 * pipeline page, the run history and the logs all see the same code.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Startup errors
	ErrorRegistryResolution ErrorCode = "REGISTRY_RESOLUTION_FAILED"

	// Pipeline errors
	ErrorStageFailed       ErrorCode = "STAGE_FAILED"
	ErrorStageSkipped      ErrorCode = "STAGE_SKIPPED"
	ErrorRasterizeFailed   ErrorCode = "RASTERIZE_FAILED"
	ErrorUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"
	ErrorJobTimeout        ErrorCode = "JOB_TIMEOUT"

	// Storage errors
	ErrorStorageFailed ErrorCode = "STORAGE_FAILED"

	// Network errors
	ErrorAPICallFailed ErrorCode = "API_CALL_FAILED"
)

// ProcessingError represents a structured processing error
type ProcessingError struct {
	Code      ErrorCode
	Message   string
	RunID     string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// HasCode reports whether err is, or wraps, a ProcessingError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}

// Factory functions for common errors

func NewRegistryResolutionError(task, modelID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorRegistryResolution,
		Message:   fmt.Sprintf("Failed to resolve model %s for task %s", modelID, task),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"task":     task,
			"model_id": modelID,
		},
		Cause: cause,
	}
}

func NewStageFailedError(runID, stage, jobURL string, cause error) *ProcessingError {
	details := map[string]interface{}{
		"stage": stage,
	}
	if jobURL != "" {
		details["job_url"] = jobURL
	}
	return &ProcessingError{
		Code:      ErrorStageFailed,
		Message:   fmt.Sprintf("Stage %s failed", stage),
		RunID:     runID,
		Timestamp: time.Now(),
		Details:   details,
		Cause:     cause,
	}
}

func NewStageSkippedError(runID, stage, upstream string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorStageSkipped,
		Message:   fmt.Sprintf("Stage %s skipped: upstream stage %s did not succeed", stage, upstream),
		RunID:     runID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"stage":    stage,
			"upstream": upstream,
		},
	}
}

func NewRasterizeFailedError(document string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorRasterizeFailed,
		Message:   fmt.Sprintf("Failed to rasterize document %s", document),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"document": document,
		},
		Cause: cause,
	}
}

func NewUnsupportedFormatError(document string, mimeType string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorUnsupportedFormat,
		Message:   fmt.Sprintf("Unsupported file format: %s", mimeType),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"document":  document,
			"mime_type": mimeType,
		},
	}
}

func NewJobTimeoutError(jobID string, duration time.Duration, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorJobTimeout,
		Message:   fmt.Sprintf("Job %s did not complete within %v", jobID, duration),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"job_id":           jobID,
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewAPICallFailedError(operation string, statusCode int, cause error) *ProcessingError {
	details := map[string]interface{}{
		"operation": operation,
	}
	if statusCode != 0 {
		details["status_code"] = statusCode
	}
	return &ProcessingError{
		Code:      ErrorAPICallFailed,
		Message:   fmt.Sprintf("Inference API call %s failed", operation),
		Timestamp: time.Now(),
		Details:   details,
		Cause:     cause,
	}
}

func NewStorageFailedError(runID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorStorageFailed,
		Message:   "Failed to store pipeline results",
		RunID:     runID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// ToMap converts error to map for database storage
func (e *ProcessingError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}

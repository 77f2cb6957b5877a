package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Custom error types for the meme generation pipeline.
 *
 * Every upstream capability failure carries a code so the pipeline can pick
 * the next weaker strategy instead of aborting. Only RENDERING_FAILED is
 * terminal for a request.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Capability degradations
	ErrorMatchingUnavailable   ErrorCode = "MATCHING_UNAVAILABLE"
	ErrorDetectionUnavailable  ErrorCode = "DETECTION_UNAVAILABLE"
	ErrorLayoutHintUnavailable ErrorCode = "LAYOUT_HINT_UNAVAILABLE"

	// Terminal failures
	ErrorRenderingFailed ErrorCode = "RENDERING_FAILED"
	ErrorInvalidImage    ErrorCode = "INVALID_IMAGE"

	// Infrastructure errors
	ErrorProcessingTimeout ErrorCode = "PROCESSING_TIMEOUT"
	ErrorStorageFailed     ErrorCode = "STORAGE_FAILED"
)

// PipelineError represents a structured pipeline error
type PipelineError struct {
	Code      ErrorCode
	Message   string
	RequestID string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// HasCode reports whether err is (or wraps) a PipelineError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var pe *PipelineError
	if stderrors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}

// Factory functions for common errors

func NewMatchingUnavailableError(requestID string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorMatchingUnavailable,
		Message:   "template matching unavailable, proceeding without a template",
		RequestID: requestID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewDetectionUnavailableError(requestID string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorDetectionUnavailable,
		Message:   "text detection unavailable, treating image as text-free",
		RequestID: requestID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewLayoutHintUnavailableError(requestID string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorLayoutHintUnavailable,
		Message:   "vision layout hints unavailable, falling back to synthesized boxes",
		RequestID: requestID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewRenderingFailedError(requestID string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorRenderingFailed,
		Message:   "text rendering failed, no further fallback exists",
		RequestID: requestID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewInvalidImageError(requestID string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorInvalidImage,
		Message:   "input image could not be decoded",
		RequestID: requestID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewProcessingTimeoutError(requestID string, duration time.Duration, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorProcessingTimeout,
		Message:   fmt.Sprintf("Processing timed out after %v", duration),
		RequestID: requestID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewStorageFailedError(requestID string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorStorageFailed,
		Message:   "Failed to store processing results",
		RequestID: requestID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// ToMap converts error to map for database storage
func (e *PipelineError) ToMap() map[string]interface{} {
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

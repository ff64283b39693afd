package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Failure taxonomy for the extraction pipeline. Each sentinel marks a
// collaborator boundary so that catch sites can decide per variant whether
// to fall back, retry, or continue with the next document.
var (
	// ErrSourceFetch: document bytes unavailable. Fatal for that document,
	// the batch continues.
	ErrSourceFetch = errors.New("document source fetch failed")

	// ErrRecognition: the recognition engine failed on a page or document.
	// Recovered by skipping the page or by the native-text fallback.
	ErrRecognition = errors.New("recognition engine failed")

	// ErrCompletion: model invocation failed or its output was irrecoverable
	// after the repair cascade. Recovered by a zeroed record, never raised
	// past the extraction engine.
	ErrCompletion = errors.New("completion failed")

	// ErrStoreUnavailable: tracking store retries exhausted. Fatal for that
	// document's upsert; the document stays unprocessed for a future run.
	ErrStoreUnavailable = errors.New("tracking store unavailable")

	// ErrCredential: re-authentication against the tracking store failed.
	// Fatal for the whole batch.
	ErrCredential = errors.New("credential acquisition failed")

	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

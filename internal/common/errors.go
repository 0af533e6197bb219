package common

import (
	"errors"
	"fmt"
	"net/http"
)

// Pipeline errors. Unit- and line-level failures are absorbed by the
// pipeline; document-, page- and job-level failures reach the caller.
var (
	ErrMalformedDocument       = errors.New("malformed document")
	ErrExtractionUnitFailed    = errors.New("extraction unit failed")
	ErrExtractorUnavailable    = errors.New("extractor unavailable")
	ErrDocumentNotFound        = errors.New("document not found")
	ErrNoStoredRun             = errors.New("no stored extraction run")
	ErrInvalidPage             = errors.New("invalid page")
	ErrAlreadyInProgress       = errors.New("already in progress")
	ErrInvalidKeyFormat        = errors.New("invalid batch key format")
	ErrBatchJobTerminalFailure = errors.New("batch job ended without success")
	ErrBatchJobNotFound        = errors.New("batch job not found")
)

// UnitError records why one unit of a document produced no rows.
type UnitError struct {
	Ordinal int
	Err     error
}

func (e *UnitError) Error() string {
	return fmt.Sprintf("unit %d: %v", e.Ordinal, e.Err)
}

func (e *UnitError) Unwrap() []error {
	return []error{ErrExtractionUnitFailed, e.Err}
}

// BatchTerminalError is returned when a batch job reaches a terminal state
// other than success.
type BatchTerminalError struct {
	JobName string
	State   string
	Message string
}

func (e *BatchTerminalError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("batch job %s ended in state %s: %s", e.JobName, e.State, e.Message)
	}
	return fmt.Sprintf("batch job %s ended in state %s", e.JobName, e.State)
}

func (e *BatchTerminalError) Unwrap() error {
	return ErrBatchJobTerminalFailure
}

// WrapError annotates err with message, keeping it matchable with errors.Is.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// HTTPStatus maps a pipeline error to the status code the function returns.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrDocumentNotFound), errors.Is(err, ErrNoStoredRun), errors.Is(err, ErrBatchJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidPage), errors.Is(err, ErrMalformedDocument):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrAlreadyInProgress):
		return http.StatusConflict
	case errors.Is(err, ErrBatchJobTerminalFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

package common

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnitErrorMatchesSentinelAndCause(t *testing.T) {
	cause := errors.New("quota exceeded")
	err := fmt.Errorf("dispatch: %w", &UnitError{Ordinal: 2, Err: cause})

	assert.ErrorIs(t, err, ErrExtractionUnitFailed)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "dispatch: unit 2: quota exceeded", err.Error())
}

func TestBatchTerminalError(t *testing.T) {
	err := &BatchTerminalError{JobName: "jobs/1", State: "expired"}
	assert.ErrorIs(t, err, ErrBatchJobTerminalFailure)
	assert.Equal(t, "batch job jobs/1 ended in state expired", err.Error())

	err.Message = "quota"
	assert.Equal(t, "batch job jobs/1 ended in state expired: quota", err.Error())
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{WrapError(ErrDocumentNotFound, "load"), http.StatusNotFound},
		{ErrNoStoredRun, http.StatusNotFound},
		{ErrInvalidPage, http.StatusUnprocessableEntity},
		{ErrAlreadyInProgress, http.StatusConflict},
		{&BatchTerminalError{JobName: "j", State: "failed"}, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), tt.err.Error())
	}
}

func TestWrapErrorNil(t *testing.T) {
	assert.NoError(t, WrapError(nil, "ignored"))
}

package errors

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a pipeline failure
type ErrorCode int

// Pipeline error codes
const (
	ErrNormalization ErrorCode = iota + 1000
	ErrRender
	ErrTransport
	ErrCircuitOpen
	ErrRetriesExhausted
)

// PipelineError represents a classified delivery-pipeline error
type PipelineError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Error constructors
func NewNormalization(message string, err error) *PipelineError {
	return &PipelineError{
		Code:    ErrNormalization,
		Message: message,
		Err:     err,
	}
}

func NewRender(templateID string, err error) *PipelineError {
	return &PipelineError{
		Code:    ErrRender,
		Message: fmt.Sprintf("failed to render template %s", templateID),
		Err:     err,
	}
}

func NewTransport(err error) *PipelineError {
	return &PipelineError{
		Code:    ErrTransport,
		Message: "transport delivery failed",
		Err:     err,
	}
}

func NewCircuitOpen(err error) *PipelineError {
	return &PipelineError{
		Code:    ErrCircuitOpen,
		Message: "circuit open, delivery refused",
		Err:     err,
	}
}

func NewRetriesExhausted(attempts int, err error) *PipelineError {
	return &PipelineError{
		Code:    ErrRetriesExhausted,
		Message: fmt.Sprintf("retries exhausted after %d attempts", attempts),
		Err:     err,
	}
}

// CodeOf returns the error code of err, or 0 if err carries none.
func CodeOf(err error) ErrorCode {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return 0
}

func IsNormalization(err error) bool { return CodeOf(err) == ErrNormalization }
func IsRender(err error) bool        { return CodeOf(err) == ErrRender }
func IsTransport(err error) bool     { return CodeOf(err) == ErrTransport }
func IsCircuitOpen(err error) bool   { return CodeOf(err) == ErrCircuitOpen }

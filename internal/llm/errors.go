package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// TransportError is returned when the model could not be reached or kept failing after all
// retries.
type TransportError struct {
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("llm transport failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// SchemaParseError is returned when a reply does not satisfy the expected schema.
type SchemaParseError struct {
	Schema string
	Raw    string
	Err    error
}

func (e *SchemaParseError) Error() string {
	return fmt.Sprintf("llm reply does not match schema %s: %v", e.Schema, e.Err)
}

func (e *SchemaParseError) Unwrap() error {
	return e.Err
}

// ContractViolation is returned when the caller passes input the pipeline does not support.
type ContractViolation struct {
	Msg string
}

func (e *ContractViolation) Error() string {
	return "contract violation: " + e.Msg
}

func ContractViolationf(format string, args ...any) error {
	return &ContractViolation{Msg: fmt.Sprintf(format, args...)}
}

// StatusError carries the HTTP status of a failed model call.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("model returned status %d: %v", e.Code, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether a backend error is worth another attempt: timeouts, network
// errors, and 408/429/5xx responses.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var serr *StatusError
	if errors.As(err, &serr) {
		return serr.Code == 408 || serr.Code == 429 || serr.Code >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	var perr *permanentError
	return !errors.As(err, &perr)
}

// permanentError marks backend errors that must not be retried, such as an empty reply.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}

func IsTransport(err error) bool {
	var terr *TransportError
	return errors.As(err, &terr)
}

func IsSchema(err error) bool {
	var serr *SchemaParseError
	return errors.As(err, &serr)
}

func IsContract(err error) bool {
	var cerr *ContractViolation
	return errors.As(err, &cerr)
}

package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jamesrr39/goutil/errorsx"
)

// stderrTail is how much of a backend's stderr is kept in a RenderFailure
const stderrTail = 2048

// NoBackendError is returned when no rendering backend is configured or installed
type NoBackendError struct {
	Tried []string
}

func (e *NoBackendError) Error() string {
	if len(e.Tried) == 0 {
		return "no rendering backend is registered"
	}
	return fmt.Sprintf(
		"no rendering backend available (tried %s): install one of them or set its executable with --backend-path %s=/path/to/executable",
		strings.Join(e.Tried, ", "),
		e.Tried[0],
	)
}

// RenderFailure is returned when a backend process fails, times out or
// produces no bitmap
type RenderFailure struct {
	Backend string
	Op      string
	Message string
	Stderr  string
	Err     error
}

func (e *RenderFailure) Error() string {
	msg := fmt.Sprintf("%s: %s failed: %s", e.Backend, e.Op, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		if len(stderr) > stderrTail {
			stderr = "..." + stderr[len(stderr)-stderrTail:]
		}
		msg += "\n" + stderr
	}
	return msg
}

func (e *RenderFailure) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure was a backend round-trip running out of time
func (e *RenderFailure) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

func failure(backend, op, message string, err error, stderr string) errorsx.Error {
	return errorsx.Wrap(&RenderFailure{
		Backend: backend,
		Op:      op,
		Message: message,
		Stderr:  stderr,
		Err:     err,
	})
}

// IsRenderFailure returns the RenderFailure behind err, if there is one
func IsRenderFailure(err error) (*RenderFailure, bool) {
	rf, ok := errorsx.Cause(err).(*RenderFailure)
	return rf, ok
}

// IsNoBackend returns the NoBackendError behind err, if there is one
func IsNoBackend(err error) (*NoBackendError, bool) {
	nb, ok := errorsx.Cause(err).(*NoBackendError)
	return nb, ok
}

// ABOUTME: Error types for worker pool failures and backend-reported errors.
// ABOUTME: Distinguishes process death from errors the backend returned on purpose.

package pool

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrWorkerExited indicates the worker process died mid-conversation.
// The wrapped message carries whatever detail could be pulled from stderr.
var ErrWorkerExited = errors.New("worker process exited unexpectedly")

// BackendError is an error the worker reported in a well-formed response.
// The worker itself is still healthy.
type BackendError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *BackendError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("backend error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("backend error: %s", e.Message)
}

// IsBackendError reports whether err is an error returned by a worker rather
// than a pool or transport failure.
func IsBackendError(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}

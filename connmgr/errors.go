package connmgr

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// ErrToolNotFound is returned when a tool was never registered or has been
// removed with its server.
var ErrToolNotFound = errors.New("tool not found")

// ErrServerNotFound is returned when no descriptor is registered for a server id.
var ErrServerNotFound = errors.New("server not found")

// ConnectionError reports a failed connect or discovery against a provider.
// Registration that fails with a ConnectionError is fully rolled back.
type ConnectionError struct {
	ServerID string
	URL      string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to server %s failed: %s", e.ServerID, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ToolExecutionError reports a provider-side failure during call-tool.
// It is isolated per call and never aborts sibling tool calls.
type ToolExecutionError struct {
	Tool     string
	ServerID string
	Err      error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %s", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Err
}

// IsConnectionError reports whether err is classified as a connection failure.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// IsToolExecutionError reports whether err is classified as a provider-side
// tool failure.
func IsToolExecutionError(err error) bool {
	var te *ToolExecutionError
	return errors.As(err, &te)
}

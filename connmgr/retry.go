package connmgr

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy is the single retry configuration used by ExecuteToolCall for
// its automatic reconnect. Callers needing more aggressive retry must loop
// explicitly.
type RetryPolicy struct {
	// MaxRetries is the number of automatic retries after the first attempt.
	MaxRetries uint64 `json:"max_retries" yaml:"max_retries"`
	// InitialInterval is the delay before the first retry.
	InitialInterval time.Duration `json:"initial_interval" yaml:"initial_interval"`
	// MaxInterval caps the backoff delay.
	MaxInterval time.Duration `json:"max_interval" yaml:"max_interval"`
}

// DefaultRetryPolicy retries a failed reconnect once.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:      1,
	InitialInterval: 100 * time.Millisecond,
	MaxInterval:     2 * time.Second,
}

// New returns a context-aware backoff for one operation.
func (p RetryPolicy) New(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, p.MaxRetries), ctx)
}

package storage

import (
	"context"
	"fmt"
	"time"
)

// Keys and channels shared by every Store implementation.
const (
	InterceptKey    = "recorder-intercept"
	ListKey         = "recorder-requests"
	DetailKeyPrefix = "recorder-request-"
	DumpEvent       = "recorder-dump-event"
)

// DetailKey returns the key holding the full record for id.
func DetailKey(id string) string {
	return fmt.Sprintf("%s%s", DetailKeyPrefix, id)
}

// Store defines the interface for persisting recorder state and traces
type Store interface {
	// Activation flag
	SetIntercept(ctx context.Context, on bool) error
	Intercepting(ctx context.Context) (bool, error)

	// Traces
	SaveTrace(ctx context.Context, t *Trace) error
	GetTrace(ctx context.Context, id string) (*Trace, error)
	ListTraces(ctx context.Context) ([]Summary, error)
	ClearTraces(ctx context.Context) error

	// Notifications
	Publish(ctx context.Context, event string, payload []byte) error
	Subscribe(ctx context.Context, event string) (<-chan []byte, func())

	// Health check
	Ping(ctx context.Context) error
}

// Options tune how traces are kept.
type Options struct {
	ListLimit int           // max summaries kept; <= 0 means unbounded
	DetailTTL time.Duration // expiry for detail keys; 0 means no expiry
}

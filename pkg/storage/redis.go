package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ngoyal88/sqlrecorder/pkg/cache"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// RedisStore implements Store on top of Redis.
// Every command runs through a circuit breaker so a dead Redis fails fast
// instead of holding up the requests that are being recorded.
type RedisStore struct {
	rdb  *cache.Client
	opts Options
	cb   *gobreaker.CircuitBreaker
}

// NewRedisStore creates a new Redis-backed storage
func NewRedisStore(rdb *cache.Client, opts Options) *RedisStore {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "recorder-store",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		// misses and callers giving up say nothing about Redis health
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, redis.Nil) ||
				errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})

	return &RedisStore{
		rdb:  rdb,
		opts: opts,
		cb:   cb,
	}
}

// do runs fn through the breaker and maps transport failures to ErrStoreUnavailable.
func (s *RedisStore) do(fn func() error) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
}

// SetIntercept sets or clears the activation flag.
func (s *RedisStore) SetIntercept(ctx context.Context, on bool) error {
	return s.do(func() error {
		if on {
			return s.rdb.Set(ctx, InterceptKey, []byte("1"), 0)
		}
		return s.rdb.Delete(ctx, InterceptKey)
	})
}

// Intercepting reports whether the activation flag is present.
func (s *RedisStore) Intercepting(ctx context.Context) (bool, error) {
	var on bool
	err := s.do(func() error {
		var err error
		on, err = s.rdb.Exists(ctx, InterceptKey)
		return err
	})
	return on, err
}

// SaveTrace pushes the summary onto the bounded list and stores the detail record.
func (s *RedisStore) SaveTrace(ctx context.Context, t *Trace) error {
	summary, err := json.Marshal(t.Summary())
	if err != nil {
		return fmt.Errorf("encode summary %s: %w", t.ID, err)
	}
	detail, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode trace %s: %w", t.ID, err)
	}

	return s.do(func() error {
		if err := s.rdb.PushBounded(ctx, ListKey, summary, s.opts.ListLimit); err != nil {
			return err
		}
		return s.rdb.Set(ctx, DetailKey(t.ID), detail, s.opts.DetailTTL)
	})
}

// GetTrace retrieves the full record for id.
func (s *RedisStore) GetTrace(ctx context.Context, id string) (*Trace, error) {
	var data []byte
	err := s.do(func() error {
		var err error
		data, err = s.rdb.Get(ctx, DetailKey(id))
		return err
	})
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	var t Trace
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode trace %s: %w", id, err)
	}
	return &t, nil
}

// ListTraces returns the stored summaries, newest first.
func (s *RedisStore) ListTraces(ctx context.Context) ([]Summary, error) {
	var raw [][]byte
	err := s.do(func() error {
		var err error
		raw, err = s.rdb.Range(ctx, ListKey, 0, -1)
		return err
	})
	if err != nil {
		return nil, err
	}

	traces := make([]Summary, 0, len(raw))
	for _, b := range raw {
		var t Summary
		if err := json.Unmarshal(b, &t); err != nil {
			return nil, fmt.Errorf("decode summary: %w", err)
		}
		traces = append(traces, t)
	}
	return traces, nil
}

// ClearTraces drops the summary list. Detail keys are left to their TTL.
func (s *RedisStore) ClearTraces(ctx context.Context) error {
	return s.do(func() error {
		return s.rdb.Delete(ctx, ListKey)
	})
}

// Publish notifies subscribers of event.
func (s *RedisStore) Publish(ctx context.Context, event string, payload []byte) error {
	return s.do(func() error {
		return s.rdb.Publish(ctx, event, payload)
	})
}

// Subscribe streams payloads published on event.
func (s *RedisStore) Subscribe(ctx context.Context, event string) (<-chan []byte, func()) {
	return s.rdb.Subscribe(ctx, event)
}

// Ping checks Redis connection
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.do(func() error {
		return s.rdb.Ping(ctx)
	})
}

var _ Store = (*RedisStore)(nil)

package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ngoyal88/sqlrecorder/pkg/storage"
)

type detail struct {
	data      []byte
	expiresAt time.Time
}

// Store implements an in-memory storage backend.
// Records are kept as encoded JSON so reads never alias what was saved.
type Store struct {
	mu        sync.RWMutex
	opts      storage.Options
	intercept bool
	summaries [][]byte // newest first
	details   map[string]detail
	subs      map[string][]chan []byte
	now       func() time.Time
}

// New creates a new in-memory store
func New(opts storage.Options) *Store {
	return &Store{
		opts:    opts,
		details: make(map[string]detail),
		subs:    make(map[string][]chan []byte),
		now:     time.Now,
	}
}

// SetIntercept sets or clears the activation flag.
func (s *Store) SetIntercept(ctx context.Context, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intercept = on
	return nil
}

// Intercepting reports the activation flag.
func (s *Store) Intercepting(ctx context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.intercept, nil
}

// SaveTrace stores the summary and detail forms of t.
func (s *Store) SaveTrace(ctx context.Context, t *storage.Trace) error {
	summary, err := json.Marshal(t.Summary())
	if err != nil {
		return fmt.Errorf("encode summary %s: %w", t.ID, err)
	}
	full, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode trace %s: %w", t.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.summaries = append([][]byte{summary}, s.summaries...)
	if s.opts.ListLimit > 0 && len(s.summaries) > s.opts.ListLimit {
		s.summaries = s.summaries[:s.opts.ListLimit]
	}

	d := detail{data: full}
	if s.opts.DetailTTL > 0 {
		d.expiresAt = s.now().Add(s.opts.DetailTTL)
	}
	s.details[t.ID] = d
	return nil
}

// GetTrace retrieves the full record for id.
func (s *Store) GetTrace(ctx context.Context, id string) (*storage.Trace, error) {
	s.mu.RLock()
	d, ok := s.details[id]
	s.mu.RUnlock()

	if !ok || (!d.expiresAt.IsZero() && s.now().After(d.expiresAt)) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}

	var t storage.Trace
	if err := json.Unmarshal(d.data, &t); err != nil {
		return nil, fmt.Errorf("decode trace %s: %w", id, err)
	}
	return &t, nil
}

// ListTraces returns the stored summaries, newest first.
func (s *Store) ListTraces(ctx context.Context) ([]storage.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	traces := make([]storage.Summary, 0, len(s.summaries))
	for _, b := range s.summaries {
		var t storage.Summary
		if err := json.Unmarshal(b, &t); err != nil {
			return nil, fmt.Errorf("decode summary: %w", err)
		}
		traces = append(traces, t)
	}
	return traces, nil
}

// ClearTraces drops the summary list only.
func (s *Store) ClearTraces(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries = nil
	return nil
}

// Publish delivers payload to current subscribers without blocking.
func (s *Store) Publish(ctx context.Context, event string, payload []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ch := range s.subs[event] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe streams payloads published on event until stop is called.
func (s *Store) Subscribe(ctx context.Context, event string) (<-chan []byte, func()) {
	ch := make(chan []byte, 16)

	s.mu.Lock()
	s.subs[event] = append(s.subs[event], ch)
	s.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			subs := s.subs[event]
			for i, c := range subs {
				if c == ch {
					s.subs[event] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			close(ch)
		})
	}
	return ch, stop
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

var _ storage.Store = (*Store)(nil)

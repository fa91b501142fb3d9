package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ngoyal88/sqlrecorder/pkg/storage"
	"github.com/rs/xid"
)

// RequestMeta is the request snapshot taken when a Recorder is created.
type RequestMeta struct {
	Path    string
	Method  string
	Command string
	Headers map[string]string
	Form    map[string]any
}

// Recorder accumulates the calls made during one request.
// It is owned by that request and must not be shared across requests.
type Recorder struct {
	id           string
	created      time.Time
	meta         RequestMeta
	captureStack bool
	now          func() time.Time

	mu        sync.Mutex
	calls     []storage.Call
	discarded atomic.Bool
}

// New creates a Recorder for the request described by meta.
func New(meta RequestMeta) *Recorder {
	return &Recorder{
		id:           xid.New().String(),
		created:      time.Now(),
		meta:         meta,
		captureStack: true,
		now:          time.Now,
	}
}

// ID returns the trace id.
func (r *Recorder) ID() string {
	return r.id
}

// Register appends call. Calls keep the order they were registered in.
func (r *Recorder) Register(call storage.Call) {
	if r.discarded.Load() {
		return
	}
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()

	callsRecorded.Inc()
	queryDuration.Observe(call.Duration / 1000)
}

// Calls returns a copy of the registered calls.
func (r *Recorder) Calls() []storage.Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]storage.Call(nil), r.calls...)
}

// Discarded reports whether the Recorder was detached from its request.
func (r *Recorder) Discarded() bool {
	return r.discarded.Load()
}

func (r *Recorder) discard() {
	r.discarded.Store(true)
}

// Trace builds the full record. Aggregates are computed from scratch on
// every call.
func (r *Recorder) Trace() *storage.Trace {
	calls := r.Calls()

	var queryTime float64
	for _, c := range calls {
		queryTime += c.Duration
	}

	return &storage.Trace{
		ID:          r.id,
		Path:        r.meta.Path,
		Command:     r.meta.Command,
		Time:        r.created,
		Queries:     len(calls),
		TimeQueries: round3(queryTime),
		Duration:    round3(float64(r.now().Sub(r.created)) / float64(time.Millisecond)),
		Method:      r.meta.Method,
		Calls:       calls,
		HTTP: &storage.HTTPInfo{
			Headers: r.meta.Headers,
			Data:    r.meta.Form,
		},
	}
}

// Dump persists the trace and notifies subscribers of DumpEvent.
// Dumping twice overwrites the detail record but pushes a second summary.
func (r *Recorder) Dump(ctx context.Context, store storage.Store) error {
	t := r.Trace()
	if err := store.SaveTrace(ctx, t); err != nil {
		dumpFailures.Inc()
		return fmt.Errorf("save trace %s: %w", t.ID, err)
	}
	dumpsTotal.Inc()

	payload, err := json.Marshal(t.Summary())
	if err != nil {
		return fmt.Errorf("encode dump event %s: %w", t.ID, err)
	}
	if err := store.Publish(ctx, storage.DumpEvent, payload); err != nil {
		return fmt.Errorf("publish dump event %s: %w", t.ID, err)
	}
	return nil
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

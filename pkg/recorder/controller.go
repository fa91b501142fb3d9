package recorder

import (
	"context"
	"time"

	"github.com/ngoyal88/sqlrecorder/pkg/storage"
)

// Status is the externally visible recording state.
type Status struct {
	Status string `json:"status"`
	Color  string `json:"color"`
}

var (
	StatusActive   = Status{Status: "Active", Color: "green"}
	StatusInactive = Status{Status: "Inactive", Color: "red"}
)

func statusOf(on bool) Status {
	if on {
		return StatusActive
	}
	return StatusInactive
}

// Controller owns the process-wide on/off flag kept in the store and decides,
// once per request, whether that request gets a Recorder.
type Controller struct {
	store        storage.Store
	captureStack bool
	flagTimeout  time.Duration
}

// DefaultFlagTimeout bounds the flag read at the start of each request.
const DefaultFlagTimeout = 500 * time.Millisecond

// NewController creates a controller backed by store.
func NewController(store storage.Store) *Controller {
	return &Controller{store: store, captureStack: true, flagTimeout: DefaultFlagTimeout}
}

// CaptureStacks sets whether new Recorders keep a stack trace per call.
func (c *Controller) CaptureStacks(on bool) *Controller {
	c.captureStack = on
	return c
}

// Active reports the current flag.
func (c *Controller) Active(ctx context.Context) (bool, error) {
	return c.store.Intercepting(ctx)
}

// Status reports the current flag as a Status.
func (c *Controller) Status(ctx context.Context) (Status, error) {
	on, err := c.store.Intercepting(ctx)
	if err != nil {
		return Status{}, err
	}
	return statusOf(on), nil
}

// SetActive sets or clears the flag. Requests already running keep whatever
// they were started with.
func (c *Controller) SetActive(ctx context.Context, on bool) (Status, error) {
	if err := c.store.SetIntercept(ctx, on); err != nil {
		return Status{}, err
	}
	return statusOf(on), nil
}

// Start is called when a request begins. If recording is on it returns ctx
// with a fresh Recorder attached; otherwise ctx is returned unchanged and the
// Recorder is nil. The flag is not consulted again for this request. meta is
// only called when recording is on.
func (c *Controller) Start(ctx context.Context, meta func() RequestMeta) (context.Context, *Recorder, error) {
	flagCtx, cancel := context.WithTimeout(ctx, c.flagTimeout)
	on, err := c.store.Intercepting(flagCtx)
	cancel()
	if err != nil || !on {
		return ctx, nil, err
	}

	rec := New(meta())
	rec.captureStack = c.captureStack
	activeRecorders.Inc()
	return WithRecorder(ctx, rec), rec, nil
}

// Finish dumps rec unless it was detached. A nil rec is ignored.
func (c *Controller) Finish(ctx context.Context, rec *Recorder) error {
	if rec == nil {
		return nil
	}
	activeRecorders.Dec()
	if rec.Discarded() {
		return nil
	}
	return rec.Dump(ctx, c.store)
}

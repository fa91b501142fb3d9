package recorder

import "context"

type contextKey struct{}

// WithRecorder returns a copy of ctx carrying rec.
func WithRecorder(ctx context.Context, rec *Recorder) context.Context {
	return context.WithValue(ctx, contextKey{}, rec)
}

// FromContext returns the Recorder attached to ctx, if any.
func FromContext(ctx context.Context) (*Recorder, bool) {
	rec, ok := ctx.Value(contextKey{}).(*Recorder)
	return rec, ok && rec != nil
}

// Detach removes the Recorder from ctx and marks it discarded, so neither
// later queries on the returned context nor the end of the request produce
// a trace.
func Detach(ctx context.Context) context.Context {
	if rec, ok := FromContext(ctx); ok {
		rec.discard()
		return context.WithValue(ctx, contextKey{}, (*Recorder)(nil))
	}
	return ctx
}

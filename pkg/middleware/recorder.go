package middleware

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ngoyal88/sqlrecorder/pkg/recorder"
)

// RecordQueries attaches a Recorder to each request that starts while
// recording is switched on, and dumps it once the handler returns. The dump
// also runs when the handler panics; the panic continues afterwards.
func RecordQueries(ctrl *recorder.Controller, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, rec, err := ctrl.Start(r.Context(), func() recorder.RequestMeta {
				return recorder.MetaFromRequest(r)
			})
			if err != nil {
				logger.Warn("Recorder flag unavailable, request not recorded", zap.Error(err))
			}
			if rec == nil {
				next.ServeHTTP(w, r)
				return
			}

			defer func() {
				// the request context may already be cancelled
				dumpCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()

				if err := ctrl.Finish(dumpCtx, rec); err != nil {
					logger.Warn("Failed to dump request trace",
						zap.String("id", rec.ID()),
						zap.String("path", r.URL.Path),
						zap.Error(err))
				}
			}()

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

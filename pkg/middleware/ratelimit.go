package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ngoyal88/sqlrecorder/pkg/cache"
	"github.com/ngoyal88/sqlrecorder/pkg/config"
)

// NewRateLimiter creates a middleware that limits requests per client IP.
// With Redis the limit is shared by every instance (redis_rate); without it
// each process keeps its own token buckets. Limits follow config reloads.
// Redis errors let the request through.
func NewRateLimiter(rdb *cache.Client, cfgStore *config.Store, logger *zap.Logger) func(http.Handler) http.Handler {
	var distributed *redis_rate.Limiter
	if rdb != nil {
		distributed = redis_rate.NewLimiter(rdb.Redis())
	}
	local := newLocalLimiters()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cfg := cfgStore.Get()
			if cfg == nil || !cfg.RateLimit.Enabled || cfg.RateLimit.RPS <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			rl := cfg.RateLimit
			client := clientIP(r)

			if distributed != nil {
				limit := redis_rate.Limit{
					Rate:   int(math.Ceil(rl.RPS)),
					Burst:  max(rl.Burst, 1),
					Period: time.Second,
				}
				res, err := distributed.Allow(r.Context(), "ratelimit:"+client, limit)
				if err != nil {
					logger.Warn("Rate limiter unavailable", zap.Error(err))
				} else if res.Allowed == 0 {
					reject(w, res.RetryAfter)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			if !local.get(client, rate.Limit(rl.RPS), max(rl.Burst, 1)).Allow() {
				reject(w, time.Second)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func reject(w http.ResponseWriter, retryAfter time.Duration) {
	rateLimited.Inc()
	secs := int(math.Ceil(retryAfter.Seconds()))
	w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
	http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
}

type localLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newLocalLimiters() *localLimiters {
	return &localLimiters{limiters: make(map[string]*rate.Limiter)}
}

// get returns the limiter for key, retuning it if the configured limit changed.
func (l *localLimiters) get(key string, limit rate.Limit, burst int) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(limit, burst)
		l.limiters[key] = lim
		return lim
	}
	if lim.Limit() != limit {
		lim.SetLimit(limit)
	}
	if lim.Burst() != burst {
		lim.SetBurst(burst)
	}
	return lim
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

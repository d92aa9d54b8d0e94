package server

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/iamvkosarev/replica-relay/config"
	"golang.org/x/time/rate"
)

const (
	corsAllowHeaders = "authorization, x-client-info, apikey, content-type, " +
		"x-supabase-client-platform, x-supabase-client-platform-version, " +
		"x-supabase-client-runtime, x-supabase-client-runtime-version"

	limiterIdleTTL = 10 * time.Minute
)

type Middleware func(http.Handler) http.Handler

// Chain applies middlewares so that the first one runs first.
func Chain(middlewares ...Middleware) Middleware {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// CORS allows any origin and answers preflight requests itself.
func CORS() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Access-Control-Allow-Origin", "*")
				w.Header().Set("Access-Control-Allow-Headers", corsAllowHeaders)
				w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
				if r.Method == http.MethodOptions {
					w.WriteHeader(http.StatusOK)
					return
				}
				next.ServeHTTP(w, r)
			},
		)
	}
}

// statusWriter records the status code. Unwrap keeps flushing available
// through http.ResponseController.
type statusWriter struct {
	http.ResponseWriter
	statusCode  int
	bytes       int64
	wroteHeader bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.statusCode = code
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.wroteHeader {
		sw.WriteHeader(http.StatusOK)
	}
	n, err := sw.ResponseWriter.Write(b)
	sw.bytes += int64(n)
	return n, err
}

func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

func Logging(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				start := time.Now()
				wrapped := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}

				next.ServeHTTP(wrapped, r)

				logger.InfoContext(
					r.Context(), "request",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Int("status", wrapped.statusCode),
					slog.Int64("bytes", wrapped.bytes),
					slog.Duration("duration", time.Since(start)),
					slog.String("client", ClientIP(r)),
				)
			},
		)
	}
}

func Recovery(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				wrapped := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
				defer func() {
					if rec := recover(); rec != nil {
						if rec == http.ErrAbortHandler {
							panic(rec)
						}
						logger.ErrorContext(
							r.Context(), "panic recovered",
							slog.String("method", r.Method),
							slog.String("path", r.URL.Path),
							slog.Bool("streaming", wrapped.wroteHeader),
							slog.String("panic", fmt.Sprint(rec)),
							slog.String("stack", string(debug.Stack())),
						)
						// A started stream cannot carry a JSON error.
						if wrapped.wroteHeader {
							panic(http.ErrAbortHandler)
						}
						writeError(w, r, http.StatusInternalServerError, textUnknownError)
					}
				}()
				next.ServeHTTP(wrapped, r)
			},
		)
	}
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter hands every client address its own token bucket.
type RateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*clientLimiter
	limit     rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

func NewRateLimiter(requestsPerMinute, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Every(time.Minute / time.Duration(requestsPerMinute)),
		burst:   burst,
		now:     time.Now,
	}
}

func (rl *RateLimiter) Allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) > limiterIdleTTL {
		for key, cl := range rl.clients {
			if now.Sub(cl.lastSeen) > limiterIdleTTL {
				delete(rl.clients, key)
			}
		}
		rl.lastSweep = now
	}

	cl, ok := rl.clients[client]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[client] = cl
	}
	cl.lastSeen = now
	return cl.limiter.AllowN(now, 1)
}

// RateLimit rejects clients over their budget with 429. It is a no-op when
// cfg.RequestsPerMinute is zero.
func RateLimit(cfg config.HTTP, logger *slog.Logger) Middleware {
	if cfg.RequestsPerMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	limiter := NewRateLimiter(cfg.RequestsPerMinute, cfg.RequestBurst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				client := ClientIP(r)
				if !limiter.Allow(client) {
					logger.WarnContext(r.Context(), "client rate limit exceeded", slog.String("client", client))
					w.Header().Set("Retry-After", "60")
					writeError(w, r, http.StatusTooManyRequests, textRateLimited)
					return
				}
				next.ServeHTTP(w, r)
			},
		)
	}
}

// ClientIP returns the connection address. Forwarding headers are honored
// only when the connection itself comes from a loopback or private address.
func ClientIP(r *http.Request) string {
	connIP := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		connIP = host
	}
	ip := net.ParseIP(connIP)
	if ip == nil || !(ip.IsLoopback() || ip.IsPrivate()) {
		return connIP
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); net.ParseIP(first) != nil {
			return first
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
		return xri
	}
	return connIP
}

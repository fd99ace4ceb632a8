package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/IlyasAtabaev731/p2p-market/internal/domain/models"
	"github.com/IlyasAtabaev731/p2p-market/internal/metrics"
	"github.com/IlyasAtabaev731/p2p-market/internal/service/auth"
)

type principalKey struct{}

func withPrincipal(ctx context.Context, p auth.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// principalFrom returns the identity stored by authenticate. Handlers behind
// guard always have one.
func principalFrom(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(auth.Principal)
	return p, ok
}

func bearerToken(r *http.Request) string {
	tokenHeader := r.Header.Get("Authorization")
	if tokenHeader == "" {
		// Browsers cannot set headers on websocket handshakes.
		if r.URL.Path == "/ws" {
			return r.URL.Query().Get("access_token")
		}
		return ""
	}

	parts := strings.SplitN(tokenHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func (s *APIServer) authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenStr := bearerToken(r)
		if tokenStr == "" {
			s.writeError(w, r, models.ErrUnauthenticated)
			return
		}

		p, err := s.auth.Resolve(r.Context(), tokenStr)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		next(w, r.WithContext(withPrincipal(r.Context(), p)))
	}
}

// guard authenticates the request and checks it against access before
// calling next.
func (s *APIServer) guard(access auth.Access, next http.HandlerFunc) http.HandlerFunc {
	return s.authenticate(func(w http.ResponseWriter, r *http.Request) {
		p, _ := principalFrom(r.Context())

		switch decision := auth.Authorize(&p, access); decision {
		case auth.Allow:
			next(w, r)
		case auth.Forbidden:
			metrics.RecordAuthFailure("forbidden")
			s.logger.Warn("Forbidden request",
				slog.String("user_id", p.UserID),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)
			s.writeError(w, r, models.ErrForbidden)
		default:
			metrics.RecordAuthFailure("blocked")
			s.writeError(w, r, models.ErrUnauthenticated)
		}
	})
}

func (s *APIServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("Request served",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("remote", r.RemoteAddr),
			slog.Duration("took", time.Since(start)),
		)
	})
}

func (s *APIServer) limitRate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := clientIP(r)
		if !s.limiter.allow(key) {
			metrics.RecordAuthFailure("rate_limited")
			s.logger.Warn("Rate limit exceeded", slog.String("key", key), slog.String("path", r.URL.Path))
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too many requests"})
			return
		}
		next(w, r)
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// rateLimiter keeps one token bucket per client key.
type rateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

const maxTrackedClients = 10000

func newRateLimiter(perSecond float64, burst int) *rateLimiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 5
	}
	return &rateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(perSecond),
		burst:    burst,
	}
}

func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	limiter, ok := rl.limiters[key]
	if !ok {
		if len(rl.limiters) >= maxTrackedClients {
			rl.limiters = make(map[string]*rate.Limiter)
		}
		limiter = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[key] = limiter
	}
	rl.mu.Unlock()

	return limiter.Allow()
}

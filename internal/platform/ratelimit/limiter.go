// Package ratelimit throttles mutating checkout requests per client.
package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"finitefield.org/storefront/internal/platform/httpx"
	"finitefield.org/storefront/internal/platform/requestctx"
)

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one token bucket per client key and forgets idle clients.
type Limiter struct {
	mu        sync.Mutex
	clients   map[string]*client
	limit     rate.Limit
	burst     int
	clientTTL time.Duration
	now       func() time.Time
	onReject  func()

	cancel context.CancelFunc
	done   chan struct{}
}

// Option customises a Limiter.
type Option func(*Limiter)

// WithRejectHook runs fn every time a request is rejected.
func WithRejectHook(fn func()) Option {
	return func(l *Limiter) { l.onReject = fn }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New builds a limiter allowing perMinute requests per client with the given
// burst. Idle clients are swept every cleanup interval until ctx ends or
// Shutdown is called.
func New(ctx context.Context, perMinute, burst int, clientTTL time.Duration, opts ...Option) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	l := &Limiter{
		clients:   make(map[string]*client),
		limit:     rate.Limit(float64(perMinute) / 60),
		burst:     burst,
		clientTTL: clientTTL,
		now:       time.Now,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	ctx, l.cancel = context.WithCancel(ctx)
	go l.cleanupLoop(ctx)
	return l
}

// Allow reports whether the client identified by key may proceed.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	c, ok := l.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = c
	}
	now := l.now()
	c.lastSeen = now
	l.mu.Unlock()

	return c.limiter.AllowN(now, 1)
}

// Middleware rejects over-limit requests with 429. Clients are keyed by
// visitor id when a session exists and by remote IP otherwise.
func (l *Limiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(clientKey(r)) {
				if l.onReject != nil {
					l.onReject()
				}
				w.Header().Set("Retry-After", "60")
				httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Shutdown stops the cleanup goroutine and waits for it to exit.
func (l *Limiter) Shutdown() {
	l.cancel()
	<-l.done
}

func (l *Limiter) cleanupLoop(ctx context.Context) {
	defer close(l.done)
	interval := l.clientTTL
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-ctx.Done():
			return
		}
	}
}

func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.clientTTL)
	for key, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, key)
		}
	}
}

func (l *Limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func clientKey(r *http.Request) string {
	if id := requestctx.VisitorID(r.Context()); id != "" {
		return "visitor:" + id
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return "ip:" + addr
}

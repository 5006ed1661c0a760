package web

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Default cleanup intervals.
const (
	cleanupInterval = 1 * time.Minute
	visitorTimeout  = 3 * time.Minute
)

// Client represents a single visitor (IP) and their token bucket state.
type Client struct {
	// mu protects the individual client's state (tokens, lastRefill).
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// RateLimiter manages rate limiting for multiple clients using a Token Bucket algorithm.
type RateLimiter struct {
	// clients maps IP addresses to their Client state.
	clients map[string]*Client
	// mu protects the global map (adding/removing clients).
	mu sync.RWMutex

	// rate is the number of tokens added per second.
	rate float64
	// capacity is the max burst size.
	capacity float64
	// trustProxy makes X-Forwarded-For the client identity.
	trustProxy bool

	now func() time.Time
}

// NewRateLimiter creates a RateLimiter and starts the background cleanup,
// which runs until ctx is done.
func NewRateLimiter(ctx context.Context, rate, capacity float64) *RateLimiter {
	rl := &RateLimiter{
		clients:  make(map[string]*Client),
		rate:     rate,
		capacity: capacity,
		now:      time.Now,
	}

	go rl.cleanupVisitors(ctx)

	return rl
}

// WithTrustedProxy keys clients by the first X-Forwarded-For hop. Enable it
// only behind a proxy that overwrites the header; otherwise any caller can
// pick a fresh bucket per request.
func (rl *RateLimiter) WithTrustedProxy(trusted bool) *RateLimiter {
	rl.trustProxy = trusted
	return rl
}

// getClient retrieves or creates a client for the given IP.
func (rl *RateLimiter) getClient(ip string) *Client {
	// 1. Fast Path: Read Lock
	rl.mu.RLock()
	c, exists := rl.clients[ip]
	rl.mu.RUnlock()

	if exists {
		return c
	}

	// 2. Slow Path: Write Lock (Create new client)
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if c, exists = rl.clients[ip]; !exists {
		c = &Client{
			tokens:     rl.capacity, // Start full
			lastRefill: rl.now(),
		}
		rl.clients[ip] = c
	}

	return c
}

// Allow checks if the request is allowed for the given IP.
// Tokens are refilled lazily from the time elapsed since the last call.
func (rl *RateLimiter) Allow(ip string) bool {
	c := rl.getClient(ip)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := rl.now()

	tokensToAdd := now.Sub(c.lastRefill).Seconds() * rl.rate
	if tokensToAdd > 0 {
		c.tokens += tokensToAdd
		if c.tokens > rl.capacity {
			c.tokens = rl.capacity
		}
		c.lastRefill = now
	}

	if c.tokens >= 1.0 {
		c.tokens--
		return true
	}

	return false
}

// cleanupVisitors removes inactive clients to prevent memory leaks.
func (rl *RateLimiter) cleanupVisitors(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.evictIdle()
		}
	}
}

func (rl *RateLimiter) evictIdle() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, c := range rl.clients {
		c.mu.Lock()
		if rl.now().Sub(c.lastRefill) > visitorTimeout {
			delete(rl.clients, ip)
		}
		c.mu.Unlock()
	}
}

// RateLimitMiddleware wraps an http.HandlerFunc to enforce rate limits.
// A limiter with a zero rate lets every request through.
func (rl *RateLimiter) RateLimitMiddleware(next http.HandlerFunc) http.HandlerFunc {
	if rl.rate <= 0 {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientIP(r, rl.trustProxy)) {
			WriteError(w, http.StatusTooManyRequests, "Too Many Requests")
			return
		}

		next(w, r)
	}
}

// clientIP returns the connection address, or the first X-Forwarded-For hop
// when the proxy is trusted.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			return strings.TrimSpace(first)
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

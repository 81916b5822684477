package fiber

import (
	"net/http"
	"sync"

	"github.com/gofiber/fiber/v3"
	"golang.org/x/time/rate"

	"github.com/lborres/acartia/core"
	"github.com/lborres/acartia/pkg/crypto"
)

// requireSwarmKey rejects requests that do not carry the configured swarm key
func (n *Node) requireSwarmKey(next fiber.Handler) fiber.Handler {
	return func(c fiber.Ctx) error {
		if !crypto.VerifySwarmKey(extractToken(c), n.cfg.SwarmKey) {
			n.logger.Warn("peer request without valid swarm key", "ip", c.IP(), "path", c.Path())
			return handleError(c, core.ErrAuthorizationDenied)
		}
		return next(c)
	}
}

// rateLimit applies the per-ip token bucket, when configured
func (n *Node) rateLimit(next fiber.Handler) fiber.Handler {
	if n.limiter == nil {
		return next
	}
	return func(c fiber.Ctx) error {
		if !n.limiter.allow(c.IP()) {
			return c.Status(http.StatusTooManyRequests).JSON(core.ErrorResponse{
				Error: "rate limit exceeded",
				Code:  http.StatusTooManyRequests,
			})
		}
		return next(c)
	}
}

// maxTrackedIPs caps the number of buckets an ipLimiter holds
const maxTrackedIPs = 4096

// ipLimiter keeps one token bucket per client ip
type ipLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	max      int
	limiters map[string]*rate.Limiter
}

func newIPLimiter(perSecond float64, burst int) *ipLimiter {
	if burst <= 0 {
		burst = max(1, int(perSecond))
	}
	return &ipLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		max:      maxTrackedIPs,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[ip]
	if !ok {
		if len(l.limiters) >= l.max {
			l.evictIdle()
		}
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[ip] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// evictIdle drops buckets that have refilled, since a fresh bucket behaves
// the same. If every client is still active the table is reset.
func (l *ipLimiter) evictIdle() {
	for ip, lim := range l.limiters {
		if lim.Tokens() >= float64(l.burst) {
			delete(l.limiters, ip)
		}
	}
	if len(l.limiters) >= l.max {
		clear(l.limiters)
	}
}

// Package middleware holds the cross-cutting gin middleware: CORS, per-IP
// rate limiting and request identity.
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/blockwait/toolhost/internal/config"
)

// clientTTL is how long an idle client keeps its limiter before eviction.
const clientTTL = 5 * time.Minute

// RateLimit creates a per-IP rate limiting middleware. Idle clients are
// evicted so the limiter map does not grow without bound.
func RateLimit(cfg config.RateLimitConfig) gin.HandlerFunc {
	type client struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}

	var (
		mu      sync.Mutex
		clients = make(map[string]*client)
	)

	go func() {
		for range time.Tick(clientTTL) {
			mu.Lock()
			for ip, cl := range clients {
				if time.Since(cl.lastSeen) > clientTTL {
					delete(clients, ip)
				}
			}
			mu.Unlock()
		}
	}()

	return func(c *gin.Context) {
		ip := c.ClientIP()

		mu.Lock()
		cl, ok := clients[ip]
		if !ok {
			cl = &client{
				limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
			}
			clients[ip] = cl
		}
		cl.lastSeen = time.Now()
		mu.Unlock()

		if !cl.limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"kind":    "rate_limited",
					"message": "rate limit exceeded",
				},
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

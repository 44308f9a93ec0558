// Package ratelimit provides in-memory per-IP rate limiting for the API
// surface.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Config holds rate limiter configuration
type Config struct {
	RequestsPerMin int
	Burst          int
}

// DefaultConfig returns default rate limiting configuration
func DefaultConfig() Config {
	return Config{
		RequestsPerMin: 60,
		Burst:          20,
	}
}

// Limiter tracks one token bucket per client IP.
type Limiter struct {
	config   Config
	mu       sync.RWMutex
	limiters map[string]*entry
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiter creates a per-IP limiter and starts its cleanup loop.
func NewLimiter(config Config) *Limiter {
	l := &Limiter{
		config:   config,
		limiters: make(map[string]*entry),
	}

	go l.cleanup()

	return l
}

func (l *Limiter) get(ip string) *rate.Limiter {
	l.mu.RLock()
	e, ok := l.limiters[ip]
	l.mu.RUnlock()
	if ok {
		l.mu.Lock()
		e.lastSeen = time.Now()
		l.mu.Unlock()
		return e.limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.limiters[ip]; ok {
		return e.limiter
	}

	lim := rate.NewLimiter(rate.Limit(float64(l.config.RequestsPerMin)/60.0), l.config.Burst)
	l.limiters[ip] = &entry{limiter: lim, lastSeen: time.Now()}
	return lim
}

// cleanup drops buckets idle for more than ten minutes.
func (l *Limiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		l.mu.Lock()
		for ip, e := range l.limiters {
			if time.Since(e.lastSeen) > 10*time.Minute {
				delete(l.limiters, ip)
			}
		}
		l.mu.Unlock()
	}
}

// Middleware rejects requests over the per-IP budget with 429.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.get(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"message": "rate limit exceeded, slow down",
			})
			return
		}
		c.Next()
	}
}

package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/TheGojiOG/saveload/internal/logging"
)

// originPolicy is the parsed api.allowed_origins list
type originPolicy struct {
	any     bool
	origins map[string]bool
}

func newOriginPolicy(allowedOrigins []string) originPolicy {
	p := originPolicy{origins: make(map[string]bool)}
	for _, o := range allowedOrigins {
		o = strings.TrimSpace(o)
		switch o {
		case "":
		case "*", "0.0.0.0/0":
			p.any = true
		default:
			p.origins[strings.TrimSuffix(o, "/")] = true
		}
	}
	return p
}

// allows reports whether a browser origin may call the API. Requests
// without an Origin header are not cross-site and always pass.
func (p originPolicy) allows(origin string) bool {
	return origin == "" || p.any || p.origins[origin]
}

// IsOriginAllowed reports whether origin is in allowedOrigins
func IsOriginAllowed(origin string, allowedOrigins []string) bool {
	return newOriginPolicy(allowedOrigins).allows(origin)
}

// CORS answers preflight requests and echoes allowed origins
func CORS(allowedOrigins []string) gin.HandlerFunc {
	policy := newOriginPolicy(allowedOrigins)

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		header := c.Writer.Header()
		if origin != "" && policy.allows(origin) {
			header.Set("Access-Control-Allow-Origin", origin)
			header.Add("Vary", "Origin")
		}
		header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Logger logs every request except health checks. The query string is left
// out because WebSocket clients pass their token there.
func Logger() gin.HandlerFunc {
	logger := logging.Component("api")

	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		if path == "/health" && gin.Mode() != gin.DebugMode {
			return
		}

		logger.Info("http_request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"ip", c.ClientIP(),
			"actor", c.GetString(ContextActor),
		)
	}
}

// RateLimit caps requests per minute for each token actor, or each client
// IP before authentication. Zero disables it.
func RateLimit(requestsPerMinute int) gin.HandlerFunc {
	if requestsPerMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	limiter := newRateLimiter(requestsPerMinute, time.Minute, time.Now)

	return func(c *gin.Context) {
		key := c.GetString(ContextActor)
		if key == "" {
			key = "ip:" + c.ClientIP()
		}

		if wait, ok := limiter.allow(key); !ok {
			c.Header("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// rateLimiter is a fixed-window counter per key
type rateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu          sync.Mutex
	windows     map[string]*window
	lastCleanup time.Time
}

type window struct {
	start time.Time
	count int
}

func newRateLimiter(limit int, size time.Duration, now func() time.Time) *rateLimiter {
	return &rateLimiter{
		limit:       limit,
		window:      size,
		now:         now,
		windows:     make(map[string]*window),
		lastCleanup: now(),
	}
}

// allow counts one request for key. When refused it returns how long until
// the window resets.
func (rl *rateLimiter) allow(key string) (time.Duration, bool) {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastCleanup) > rl.window {
		for k, w := range rl.windows {
			if now.Sub(w.start) >= rl.window {
				delete(rl.windows, k)
			}
		}
		rl.lastCleanup = now
	}

	w, ok := rl.windows[key]
	if !ok || now.Sub(w.start) >= rl.window {
		rl.windows[key] = &window{start: now, count: 1}
		return 0, true
	}
	if w.count >= rl.limit {
		return rl.window - now.Sub(w.start), false
	}
	w.count++
	return 0, true
}

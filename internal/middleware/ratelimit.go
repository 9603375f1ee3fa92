package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type RateLimitOptions struct {
	Prefix   string
	Requests int
	Window   time.Duration
	Now      func() time.Time
}

// RateLimit counts requests per client IP in fixed windows stored in Redis.
// Redis errors let the request through.
func RateLimit(client *redis.Client, opts RateLimitOptions, log zerolog.Logger) gin.HandlerFunc {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Prefix == "" {
		opts.Prefix = "ratelimit"
	}
	limit := strconv.Itoa(opts.Requests)

	return func(c *gin.Context) {
		if client == nil {
			c.Next()
			return
		}

		window := opts.Now().UnixNano() / int64(opts.Window)
		key := fmt.Sprintf("%s:%s:%d", opts.Prefix, c.ClientIP(), window)

		var incr *redis.IntCmd
		_, err := client.TxPipelined(c.Request.Context(), func(pipe redis.Pipeliner) error {
			incr = pipe.Incr(c.Request.Context(), key)
			pipe.Expire(c.Request.Context(), key, opts.Window)
			return nil
		})
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("rate limit check failed")
			c.Next()
			return
		}

		count := incr.Val()
		remaining := int64(opts.Requests) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Writer.Header().Set("X-RateLimit-Limit", limit)
		c.Writer.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > int64(opts.Requests) {
			c.Writer.Header().Set("Retry-After", strconv.Itoa(int(opts.Window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
			return
		}

		c.Next()
	}
}

package server

import (
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/billarchive/internal/observability/logger"
	"go.uber.org/zap"
)

const CallerIDHeader = "X-Caller-Id"

// TriggerRateLimit throttles the archive trigger endpoints per caller. The
// caller is the X-Caller-Id header, or the client IP without one.
func (s *Server) TriggerRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.triggerLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		caller := strings.TrimSpace(c.GetHeader(CallerIDHeader))
		if caller == "" {
			caller = c.ClientIP()
		}

		result, err := s.triggerLimiter.AllowCaller(ctx, caller)
		if err != nil {
			logger.WithContext(ctx, s.log).Warn("trigger rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		if !result.Allowed {
			retryAfter := int(math.Ceil(result.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			logger.WithContext(ctx, s.log).Warn("trigger rate limit exceeded",
				zap.String("endpoint", c.FullPath()),
			)
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			AbortWithError(c, ErrRateLimited)
			return
		}

		c.Next()
	}
}

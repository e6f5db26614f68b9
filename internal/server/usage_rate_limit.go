package server

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tenantbilling/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	rateLimitReasonTenantRate   = "tenant-rate"
	rateLimitReasonUnitInFlight = "unit-in-flight"
)

// UsageRateLimit throttles usage triggers per tenant and rejects a trigger
// while another one for the same unit is still fanning out.
func (s *Server) UsageRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.usageLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		log := logger.FromContext(ctx)
		tenantID := c.Param("tenant_id")
		unit := c.Param("unit")

		res, err := s.usageLimiter.AllowTenant(ctx, tenantID)
		if err != nil {
			log.Warn("usage rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !res.Allowed {
			retryAfter := int(res.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			s.denyUsage(c, rateLimitReasonTenantRate, retryAfter)
			return
		}

		token, ok, err := s.usageLimiter.TryLockUnit(ctx, tenantID, unit)
		if err != nil {
			log.Warn("usage unit lock failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !ok {
			s.denyUsage(c, rateLimitReasonUnitInFlight, 1)
			return
		}
		defer func() {
			if err := s.usageLimiter.ReleaseUnit(ctx, tenantID, unit, token); err != nil {
				log.Warn("usage unit unlock failed", zap.Error(err))
			}
		}()

		s.metrics.RecordRateLimit(true, "")
		c.Next()
	}
}

func (s *Server) denyUsage(c *gin.Context, reason string, retryAfter int) {
	logger.FromContext(c.Request.Context()).Warn("usage rate limit exceeded",
		zap.String("reason", reason),
		zap.String("tenant_id", c.Param("tenant_id")),
		zap.String("unit", c.Param("unit")),
	)
	s.metrics.RecordRateLimit(false, reason)

	c.Header("Retry-After", strconv.Itoa(retryAfter))
	c.Header("X-Rate-Limited-Reason", reason)
	AbortWithError(c, ErrRateLimited)
}

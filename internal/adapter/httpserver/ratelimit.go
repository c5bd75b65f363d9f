package httpserver

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

const (
	rateLimiterExpiry = 5 * time.Minute

	defaultActionRate  = 1.0
	defaultActionBurst = 5
)

// newRateLimiter throttles per client IP. Each request that passes costs one
// token; tokens refill at ratePerSecond up to burst.
func newRateLimiter(ratePerSecond float64, burst int) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(ratePerSecond),
			Burst:     burst,
			ExpiresIn: rateLimiterExpiry,
		},
	)
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		Store: store,
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return c.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "rate limit exceeded",
			})
		},
	})
}

// actionRateLimiter guards the routes that fan out to the backend: starting a
// session, refreshing the nearby list, signalling interest and editing the
// profile. All of them share one budget per client.
func (s *Server) actionRateLimiter() echo.MiddlewareFunc {
	ratePerSecond, burst := defaultActionRate, defaultActionBurst
	if s.config != nil {
		if s.config.ActionRateLimit > 0 {
			ratePerSecond = s.config.ActionRateLimit
		}
		if s.config.ActionRateBurst > 0 {
			burst = s.config.ActionRateBurst
		}
	}
	return newRateLimiter(ratePerSecond, burst)
}

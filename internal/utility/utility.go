package utility

import (
	"github.com/labstack/echo/v4"
)

// TrustedProxyExtractor only honours X-Forwarded-For when the direct peer is a
// loopback, link-local or private address. Anything else is keyed by its socket
// address so a client cannot pick its own identity.
func TrustedProxyExtractor() echo.IPExtractor {
	return echo.ExtractIPFromXFFHeader()
}

// RateLimitIdentifier keys the plan rate limiter by client address.
func RateLimitIdentifier(c echo.Context) (string, error) {
	return c.RealIP(), nil
}

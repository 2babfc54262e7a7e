package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo"

	"github.com/gebv/tbcpay/interceptors/settings"
)

const AccessTokenHeader = "Access-Token"

// Middleware rejects requests whose Access-Token header does not match token.
// An empty token disables the check.
//
// Should be installed after settings.Middleware.
func Middleware(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if token == "" {
			return next
		}
		return func(c echo.Context) error {
			got := c.Request().Header.Get(AccessTokenHeader)
			if got == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Access token is required.")
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				settings.GetLogger(c.Request().Context()).Warn("Invalid access token.")
				return echo.NewHTTPError(http.StatusForbidden, "Invalid access token.")
			}
			return next(c)
		}
	}
}

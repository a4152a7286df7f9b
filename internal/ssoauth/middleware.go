// Package ssoauth provides an optional bearer-token echo middleware, gated
// on the sso.enabled config flag, for deployments that front the broker or
// registry with a shared JWT-issuing SSO provider.
package ssoauth

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// exemptPaths lists routes that must stay reachable without a token: a
// load balancer or scrape target checking /health or /metrics has no way
// to carry an SSO session.
var exemptPaths = map[string]bool{
	"/health":       true,
	"/version":      true,
	"/metrics":      true,
	"/swagger.json": true,
	"/log":          true,
}

// Middleware returns an echo middleware that rejects requests lacking a
// valid HMAC-signed (HS256, HS384 or HS512) bearer token signed with secret,
// except for exemptPaths. It
// is meant to be attached only when sso.enabled is true; callers skip it
// entirely otherwise.
func Middleware(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if exemptPaths[c.Path()] {
				return next(c)
			}

			header := c.Request().Header.Get("Authorization")
			token := strings.TrimPrefix(header, "Bearer ")
			if token == "" || token == header {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}

			parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrTokenSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !parsed.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid bearer token")
			}
			return next(c)
		}
	}
}

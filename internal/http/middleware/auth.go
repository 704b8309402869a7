// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file authenticates callers. An X-API-Key header is tried first, then
// an "Authorization: Bearer <jwt>" header. The resolved principal is stored
// in the Gin context; the user ID is also kept under "userID" for the rate
// limiter and idempotency middleware.
package middleware

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/visa-eval-backend/internal/services"
)

// HeaderAPIKey carries programmatic credentials.
const HeaderAPIKey = "X-API-Key"

const (
	ctxKeyPrincipal = "auth.principal"
	ctxKeyUserID    = "userID"
)

// Authenticator resolves credentials to a principal.
type Authenticator interface {
	AuthenticateAPIKey(ctx context.Context, key string) (services.Principal, error)
	ParseToken(token string) (services.Principal, error)
}

// Authenticate rejects requests without valid credentials with 401. When
// methods is non-empty only those authentication methods are accepted.
func Authenticate(a Authenticator, methods ...services.AuthMethod) gin.HandlerFunc {
	allowed := func(m services.AuthMethod) bool {
		return len(methods) == 0 || slices.Contains(methods, m)
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()

		if key := strings.TrimSpace(c.GetHeader(HeaderAPIKey)); key != "" {
			if !allowed(services.AuthAPIKey) {
				abortError(c, http.StatusForbidden, "forbidden", "api keys cannot be used for this endpoint")
				return
			}
			p, err := a.AuthenticateAPIKey(ctx, key)
			if err != nil {
				abortError(c, http.StatusUnauthorized, "unauthorized", "invalid or inactive api key")
				return
			}
			setPrincipal(c, p)
			c.Next()
			return
		}

		token, found := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		token = strings.TrimSpace(token)
		if !found || token == "" {
			abortError(c, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		if !allowed(services.AuthJWT) {
			abortError(c, http.StatusForbidden, "forbidden", "bearer tokens cannot be used for this endpoint")
			return
		}
		p, err := a.ParseToken(token)
		if err != nil {
			abortError(c, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
			return
		}
		setPrincipal(c, p)
		c.Next()
	}
}

func setPrincipal(c *gin.Context, p services.Principal) {
	c.Set(ctxKeyPrincipal, p)
	c.Set(ctxKeyUserID, p.UserID)
	attachLogger(c, LoggerFrom(c).With().
		Str("user_id", p.UserID).
		Str("auth", string(p.Method)).
		Logger())
}

// PrincipalFrom returns the authenticated caller, if any.
func PrincipalFrom(c *gin.Context) (services.Principal, bool) {
	v, ok := c.Get(ctxKeyPrincipal)
	if !ok {
		return services.Principal{}, false
	}
	p, ok := v.(services.Principal)
	return p, ok
}

// UserIDFrom returns the authenticated user ID, empty when anonymous.
func UserIDFrom(c *gin.Context) string {
	v, _ := c.Get(ctxKeyUserID)
	return asString(v)
}

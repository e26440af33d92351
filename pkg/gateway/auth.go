package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/internal/observability"
	"github.com/labstack/echo/v4"
)

// SecretHeader carries the shared secret on HTTP requests. Browser
// EventSource and WebSocket clients cannot set headers and pass ?secret=.
const SecretHeader = "X-Cora-Secret"

// AuthHandler checks the shared secret. An empty secret disables auth.
type AuthHandler struct {
	sharedSecret string
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(sharedSecret string) *AuthHandler {
	return &AuthHandler{
		sharedSecret: sharedSecret,
	}
}

// Enabled reports whether a secret is configured.
func (a *AuthHandler) Enabled() bool {
	return a.sharedSecret != ""
}

// VerifySecret compares candidate with the configured secret in constant time.
func (a *AuthHandler) VerifySecret(candidate string) bool {
	if !a.Enabled() {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(a.sharedSecret), []byte(candidate)) == 1
}

// Authorized checks the header first, then the secret query parameter.
func (a *AuthHandler) Authorized(r *http.Request) bool {
	if !a.Enabled() {
		return true
	}
	candidate := strings.TrimSpace(r.Header.Get(SecretHeader))
	if candidate == "" {
		candidate = r.URL.Query().Get("secret")
	}
	return candidate != "" && a.VerifySecret(candidate)
}

// Middleware rejects unauthorized requests with 401.
func (a *AuthHandler) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !a.Authorized(c.Request()) {
				observability.RecordSecurityAudit(c.Request().Context(), "gateway_auth", c.RealIP(), "failure", map[string]interface{}{
					"path": c.Request().URL.Path,
				})
				return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
			}
			return next(c)
		}
	}
}

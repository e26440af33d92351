package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthHandler_VerifySecret(t *testing.T) {
	auth := NewAuthHandler("test-secret")

	t.Run("should accept matching secret", func(t *testing.T) {
		assert.True(t, auth.VerifySecret("test-secret"))
	})

	t.Run("should reject wrong secret", func(t *testing.T) {
		assert.False(t, auth.VerifySecret("wrong-secret"))
		assert.False(t, auth.VerifySecret(""))
	})

	t.Run("should allow everything when disabled", func(t *testing.T) {
		open := NewAuthHandler("")
		assert.False(t, open.Enabled())
		assert.True(t, open.VerifySecret("anything"))
		assert.True(t, open.Authorized(httptest.NewRequest(http.MethodGet, "/api/sessions", nil)))
	})
}

func TestAuthHandler_Authorized(t *testing.T) {
	auth := NewAuthHandler("s3cret")

	tests := []struct {
		name   string
		target string
		header string
		want   bool
	}{
		{"header", "/api/sessions", "s3cret", true},
		{"query", "/api/sessions/x/stream?secret=s3cret", "", true},
		{"header wins over query", "/ws?secret=s3cret", "wrong", false},
		{"wrong query", "/ws?secret=nope", "", false},
		{"missing", "/api/sessions", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set(SecretHeader, tt.header)
			}
			assert.Equal(t, tt.want, auth.Authorized(req))
		})
	}
}

func TestAuthHandler_Middleware(t *testing.T) {
	auth := NewAuthHandler("s3cret")
	handler := auth.Middleware()(func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})

	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	rec := httptest.NewRecorder()
	err := handler(e.NewContext(req, rec))
	require.Error(t, err)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, he.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	req.Header.Set(SecretHeader, "s3cret")
	rec = httptest.NewRecorder()
	require.NoError(t, handler(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

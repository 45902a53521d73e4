package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

const backOffice = "https://desk.example.com"

func preflight(origin string) *http.Request {
	req := httptest.NewRequest(http.MethodOptions, "/api/orders/1/status", nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	return req
}

func TestCORS_Preflight(t *testing.T) {
	called := false
	h := CORS(CORSConfig{Origins: []string{backOffice}, MaxAge: 600})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	t.Run("Allowed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, preflight("HTTPS://DESK.example.com"))

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, backOffice, rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "GET, POST, PATCH, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
		assert.Equal(t, "Content-Type", rec.Header().Get("Access-Control-Allow-Headers"))
		assert.Equal(t, "600", rec.Header().Get("Access-Control-Max-Age"))
		assert.Contains(t, rec.Header().Values("Vary"), "Origin")
	})
	t.Run("Rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, preflight("https://evil.example.com"))

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Methods"))
	})
	assert.False(t, called, "preflight must not reach the handler")
}

func TestCORS_ActualRequest(t *testing.T) {
	for _, tt := range []struct {
		name        string
		cfg         CORSConfig
		origin      string
		allowOrigin string
		credentials string
	}{
		{"AnyOrigin", CORSConfig{}, backOffice, "*", ""},
		{"ListedOrigin", CORSConfig{Origins: []string{backOffice}}, backOffice, backOffice, ""},
		{"UnlistedOrigin", CORSConfig{Origins: []string{backOffice}}, "https://other.example.com", "", ""},
		{"CredentialsEchoListed", CORSConfig{Origins: []string{"*", backOffice}, AllowCredentials: true}, backOffice, backOffice, "true"},
		{"CredentialsNoWildcard", CORSConfig{Origins: []string{"*"}, AllowCredentials: true}, backOffice, "", ""},
	} {
		t.Run(tt.name, func(t *testing.T) {
			h := CORS(tt.cfg)(okHandler())
			req := httptest.NewRequest(http.MethodPost, "/api/orders", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.allowOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.credentials, rec.Header().Get("Access-Control-Allow-Credentials"))
			if tt.allowOrigin != "" {
				assert.Equal(t, RequestIDHeader, rec.Header().Get("Access-Control-Expose-Headers"))
			}
		})
	}
}

func TestCORS_NoOrigin(t *testing.T) {
	h := CORS(CORSConfig{Origins: []string{backOffice}})(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders/1", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, []string{"Origin"}, rec.Header().Values("Vary"))
}

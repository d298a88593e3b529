package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"cookie-wallet/internal/infrastructure/config"
	otelinfra "cookie-wallet/internal/infrastructure/observability/otel"
)

func TestAPIKeyMiddleware(t *testing.T) {
	tests := []struct {
		name         string
		cfg          config.AdminAPIConfig
		apiKey       string
		operator     string
		remoteAddr   string
		wantStatus   int
		wantOperator string
	}{
		{
			name:         "正常系: キー一致",
			cfg:          config.AdminAPIConfig{Enabled: true, APIKey: "secret"},
			apiKey:       "secret",
			operator:     "alice",
			wantStatus:   http.StatusOK,
			wantOperator: "alice",
		},
		{
			name:         "正常系: 実行者なしは既定値",
			cfg:          config.AdminAPIConfig{Enabled: true, APIKey: "secret"},
			apiKey:       "secret",
			wantStatus:   http.StatusOK,
			wantOperator: "admin-api",
		},
		{
			name:         "正常系: CIDRで許可",
			cfg:          config.AdminAPIConfig{Enabled: true, APIKey: "secret", AllowedIPs: []string{"10.0.0.0/8"}},
			apiKey:       "secret",
			remoteAddr:   "10.1.2.3:5555",
			wantStatus:   http.StatusOK,
			wantOperator: "admin-api",
		},
		{
			name:       "異常系: CIDR外",
			cfg:        config.AdminAPIConfig{Enabled: true, APIKey: "secret", AllowedIPs: []string{"10.0.0.0/8", "192.168.1.10"}},
			apiKey:     "secret",
			remoteAddr: "100.0.0.1:5555",
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "異常系: 無効化されている",
			cfg:        config.AdminAPIConfig{Enabled: false, APIKey: "secret"},
			apiKey:     "secret",
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "異常系: キーなし",
			cfg:        config.AdminAPIConfig{Enabled: true, APIKey: "secret"},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "異常系: キー不一致",
			cfg:        config.AdminAPIConfig{Enabled: true, APIKey: "secret"},
			apiKey:     "wrong",
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := otelinfra.NewLogger(noop.NewTracerProvider().Tracer("test"))
			e := echo.New()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/users/user123/grants", nil)
			if tt.apiKey != "" {
				req.Header.Set("X-API-Key", tt.apiKey)
			}
			if tt.operator != "" {
				req.Header.Set("X-Operator", tt.operator)
			}
			if tt.remoteAddr != "" {
				req.RemoteAddr = tt.remoteAddr
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			var gotOperator string
			handler := APIKeyMiddleware(&tt.cfg, logger)(func(c echo.Context) error {
				gotOperator, _ = c.Get(ContextKeyOperator).(string)
				return c.String(http.StatusOK, "ok")
			})

			require.NoError(t, handler(c))
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantOperator, gotOperator)
		})
	}
}

func TestGetClientIP(t *testing.T) {
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	assert.Equal(t, "203.0.113.5", getClientIP(e.NewContext(req, httptest.NewRecorder())))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Real-IP", "203.0.113.9")
	assert.Equal(t, "203.0.113.9", getClientIP(e.NewContext(req, httptest.NewRecorder())))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[::1]:8080"
	assert.Equal(t, "::1", getClientIP(e.NewContext(req, httptest.NewRecorder())))
}

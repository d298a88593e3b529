package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"cookie-wallet/internal/infrastructure/config"
	otelinfra "cookie-wallet/internal/infrastructure/observability/otel"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestAuthMiddleware(t *testing.T) {
	cfg := &config.JWTConfig{Secret: "test-secret", Issuer: "course-market"}
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantUserID string
	}{
		{
			name:       "正常系: user_idクレーム",
			header:     "Bearer " + signToken(t, "test-secret", jwt.MapClaims{"user_id": "user123", "iss": "course-market", "exp": exp}),
			wantStatus: http.StatusOK,
			wantUserID: "user123",
		},
		{
			name:       "正常系: subクレーム",
			header:     "Bearer " + signToken(t, "test-secret", jwt.MapClaims{"sub": "user456", "iss": "course-market", "exp": exp}),
			wantStatus: http.StatusOK,
			wantUserID: "user456",
		},
		{name: "異常系: ヘッダーなし", header: "", wantStatus: http.StatusUnauthorized},
		{name: "異常系: Bearer以外", header: "Basic abc", wantStatus: http.StatusUnauthorized},
		{name: "異常系: 不正なトークン", header: "Bearer invalid-token", wantStatus: http.StatusUnauthorized},
		{
			name:       "異常系: 署名の鍵が違う",
			header:     "Bearer " + signToken(t, "other-secret", jwt.MapClaims{"user_id": "user123", "iss": "course-market", "exp": exp}),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "異常系: 発行者が違う",
			header:     "Bearer " + signToken(t, "test-secret", jwt.MapClaims{"user_id": "user123", "iss": "someone-else", "exp": exp}),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "異常系: 期限切れ",
			header:     "Bearer " + signToken(t, "test-secret", jwt.MapClaims{"user_id": "user123", "iss": "course-market", "exp": time.Now().Add(-time.Hour).Unix()}),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "異常系: ユーザーIDなし",
			header:     "Bearer " + signToken(t, "test-secret", jwt.MapClaims{"iss": "course-market", "exp": exp}),
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := otelinfra.NewLogger(noop.NewTracerProvider().Tracer("test"))
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			var gotUserID string
			handler := AuthMiddleware(cfg, logger)(func(c echo.Context) error {
				gotUserID, _ = c.Get(ContextKeyUserID).(string)
				return c.String(http.StatusOK, "ok")
			})

			require.NoError(t, handler(c))
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantUserID, gotUserID)
		})
	}
}

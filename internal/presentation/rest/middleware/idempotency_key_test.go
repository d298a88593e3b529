package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireIdempotencyKey(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		wantStatus int
	}{
		{name: "正常系: キーあり", key: "checkout-123", wantStatus: http.StatusOK},
		{name: "異常系: キーなし", key: "", wantStatus: http.StatusBadRequest},
		{name: "異常系: 長すぎる", key: strings.Repeat("k", 256), wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil)
			if tt.key != "" {
				req.Header.Set(HeaderIdempotencyKey, tt.key)
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			var got string
			handler := RequireIdempotencyKey()(func(c echo.Context) error {
				got, _ = c.Get(ContextKeyIdempotencyKey).(string)
				return c.NoContent(http.StatusOK)
			})

			require.NoError(t, handler(c))
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.key, got)
			}
		})
	}
}

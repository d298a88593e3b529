package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	restmiddleware "cookie-wallet/internal/presentation/rest/middleware"
)

// HeaderReplayed キャッシュから返したレスポンスに付けるヘッダー
const HeaderReplayed = "Idempotent-Replayed"

// userIDFrom トークンから取り出したユーザーID
func userIDFrom(c echo.Context) (string, error) {
	userID, ok := c.Get(restmiddleware.ContextKeyUserID).(string)
	if !ok || userID == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "user_id not found in token")
	}
	return userID, nil
}

func idempotencyKeyFrom(c echo.Context) string {
	key, _ := c.Get(restmiddleware.ContextKeyIdempotencyKey).(string)
	return key
}

func operatorFrom(c echo.Context) string {
	operator, _ := c.Get(restmiddleware.ContextKeyOperator).(string)
	return operator
}

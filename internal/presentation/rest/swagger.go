package rest

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echoSwagger "github.com/swaggo/echo-swagger"

	"cookie-wallet/internal/presentation/openapi"
)

// SetupSwagger OpenAPI定義とSwagger UIを配信
func SetupSwagger(e *echo.Echo) {
	e.GET("/openapi.yaml", func(c echo.Context) error {
		return c.Blob(http.StatusOK, "application/x-yaml", openapi.Spec)
	})

	e.GET("/swagger/*", echoSwagger.EchoWrapHandler(
		echoSwagger.URL("/openapi.yaml"),
	))
}

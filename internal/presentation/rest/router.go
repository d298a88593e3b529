package rest

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"cookie-wallet/internal/infrastructure/config"
	otelinfra "cookie-wallet/internal/infrastructure/observability/otel"
	"cookie-wallet/internal/presentation/rest/handler"
	restmiddleware "cookie-wallet/internal/presentation/rest/middleware"
)

// HealthChecker 依存先の疎通確認
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// Services ルーターが使うアプリケーションサービス
type Services struct {
	Checkout   handler.CheckoutService
	Settlement handler.SettlementService
	Refund     handler.RefundService
	Wallet     handler.WalletQueryService
	Coupons    handler.CouponQueryService
	Admin      handler.AdminService
	Health     HealthChecker
}

// Router REST APIルーター
type Router struct {
	echo *echo.Echo
}

// NewRouter 新しいRouterを作成
func NewRouter(cfg *config.Config, logger *otelinfra.Logger, metrics *otelinfra.Metrics, svc Services) *Router {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// エラーはErrorHandlerMiddlewareでレスポンスに変換済み
	e.HTTPErrorHandler = func(err error, c echo.Context) {}

	setupMiddleware(e, logger, metrics)
	setupRoutes(e, cfg, logger, svc)
	SetupSwagger(e)

	return &Router{echo: e}
}

// setupMiddleware ミドルウェアを設定。ErrorHandlerMiddlewareを最も内側に置く
func setupMiddleware(e *echo.Echo, logger *otelinfra.Logger, metrics *otelinfra.Metrics) {
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(restmiddleware.SecurityHeadersMiddleware())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, restmiddleware.HeaderIdempotencyKey},
		ExposeHeaders: []string{handler.HeaderReplayed, echo.HeaderXRequestID},
	}))
	e.Use(restmiddleware.TracingMiddleware())
	e.Use(restmiddleware.LoggingMiddleware(logger))
	e.Use(restmiddleware.MetricsMiddleware(metrics))
	e.Use(restmiddleware.ErrorHandlerMiddleware(logger))
}

// setupRoutes ルーティングを設定
func setupRoutes(e *echo.Echo, cfg *config.Config, logger *otelinfra.Logger, svc Services) {
	checkoutHandler := handler.NewCheckoutHandler(svc.Checkout)
	orderHandler := handler.NewOrderHandler(svc.Settlement, svc.Refund)
	walletHandler := handler.NewWalletHandler(svc.Wallet, svc.Coupons)
	adminHandler := handler.NewAdminHandler(svc.Admin)

	api := e.Group("/api/v1")

	user := api.Group("", restmiddleware.AuthMiddleware(&cfg.JWT, logger))
	idempotent := restmiddleware.RequireIdempotencyKey()
	user.POST("/checkout", checkoutHandler.Checkout, idempotent)
	user.POST("/orders/:order_id/settle", orderHandler.Settle)
	user.POST("/orders/:order_id/cancel", orderHandler.Cancel)
	user.POST("/orders/:order_id/refunds", orderHandler.Refund, idempotent)
	user.GET("/wallet", walletHandler.GetWallet)
	user.GET("/wallet/ledger", walletHandler.GetLedger)
	user.GET("/coupons", walletHandler.ListCoupons)

	admin := api.Group("/admin", restmiddleware.APIKeyMiddleware(&cfg.AdminAPI, logger))
	admin.POST("/users/:user_id/grants", adminHandler.Grant)
	admin.POST("/users/:user_id/coupons", adminHandler.IssueCoupon)
	admin.GET("/users/:user_id/reconcile", adminHandler.Reconcile)

	e.GET("/health", func(c echo.Context) error {
		if svc.Health != nil {
			if err := svc.Health.PingContext(c.Request().Context()); err != nil {
				logger.Warn(c.Request().Context(), "Health check failed", map[string]interface{}{"error": err.Error()})
				return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			}
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
}

// Handler http.Handlerとして返す
func (r *Router) Handler() http.Handler {
	return r.echo
}

// Start サーバーを起動
func (r *Router) Start(address string) error {
	return r.echo.Start(address)
}

// Shutdown 処理中のリクエストを待ってから停止
func (r *Router) Shutdown(ctx context.Context) error {
	return r.echo.Shutdown(ctx)
}

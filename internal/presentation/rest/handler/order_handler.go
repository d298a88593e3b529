package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"cookie-wallet/internal/application/receipt"
	refundapp "cookie-wallet/internal/application/refund"
)

// SettlementService 決済の確定と取消
type SettlementService interface {
	Settle(ctx context.Context, userID, orderID string) (*receipt.Receipt, error)
	Cancel(ctx context.Context, userID, orderID string) (*receipt.Receipt, error)
}

// RefundService 返金
type RefundService interface {
	Refund(ctx context.Context, req *refundapp.RefundRequest) (*refundapp.RefundResponse, error)
}

// OrderHandler 注文操作ハンドラー
type OrderHandler struct {
	settlementService SettlementService
	refundService     RefundService
}

// NewOrderHandler 新しいOrderHandlerを作成
func NewOrderHandler(settlementService SettlementService, refundService RefundService) *OrderHandler {
	return &OrderHandler{
		settlementService: settlementService,
		refundService:     refundService,
	}
}

// Settle 決済確定ハンドラー
// @Summary PENDINGの注文を決済する
// @Tags orders
// @Produce json
// @Security Bearer
// @Param order_id path string true "注文ID"
// @Success 200 {object} ReceiptResponse "決済済み"
// @Failure 403 {object} middleware.ErrorResponse "他人の注文"
// @Failure 409 {object} middleware.ErrorResponse "同時実行"
// @Failure 422 {object} middleware.ErrorResponse "状態エラー"
// @Router /orders/{order_id}/settle [post]
func (h *OrderHandler) Settle(c echo.Context) error {
	userID, err := userIDFrom(c)
	if err != nil {
		return err
	}
	rec, err := h.settlementService.Settle(c.Request().Context(), userID, c.Param("order_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

// Cancel 注文取消ハンドラー
// @Summary PENDINGの注文を取り消して確保を解放する
// @Tags orders
// @Produce json
// @Security Bearer
// @Param order_id path string true "注文ID"
// @Success 200 {object} ReceiptResponse "取消済み"
// @Failure 422 {object} middleware.ErrorResponse "状態エラー"
// @Router /orders/{order_id}/cancel [post]
func (h *OrderHandler) Cancel(c echo.Context) error {
	userID, err := userIDFrom(c)
	if err != nil {
		return err
	}
	rec, err := h.settlementService.Cancel(c.Request().Context(), userID, c.Param("order_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

// Refund 返金ハンドラー
// @Summary 決済済みの注文を返金する
// @Tags orders
// @Accept json
// @Produce json
// @Security Bearer
// @Param Idempotency-Key header string true "冪等性キー"
// @Param order_id path string true "注文ID"
// @Param request body RefundRequest true "返金リクエスト"
// @Success 201 {object} refund.RefundResponse "返金済み"
// @Failure 400 {object} middleware.ErrorResponse "検証エラー"
// @Failure 422 {object} middleware.ErrorResponse "返金できない"
// @Router /orders/{order_id}/refunds [post]
func (h *OrderHandler) Refund(c echo.Context) error {
	userID, err := userIDFrom(c)
	if err != nil {
		return err
	}

	var body RefundRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	resp, err := h.refundService.Refund(c.Request().Context(), &refundapp.RefundRequest{
		UserID:         userID,
		OrderID:        c.Param("order_id"),
		IdempotencyKey: idempotencyKeyFrom(c),
		LineItemIDs:    body.LineItemIDs,
		Amount:         body.Amount,
		Reason:         body.Reason,
	})
	if err != nil {
		return err
	}

	if resp.Replayed {
		c.Response().Header().Set(HeaderReplayed, "true")
		return c.JSON(http.StatusOK, resp)
	}
	return c.JSON(http.StatusCreated, resp)
}

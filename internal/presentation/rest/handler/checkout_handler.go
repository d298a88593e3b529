package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	checkoutapp "cookie-wallet/internal/application/checkout"
)

// CheckoutService 決済検証
type CheckoutService interface {
	Checkout(ctx context.Context, req *checkoutapp.CheckoutRequest) (*checkoutapp.CheckoutResponse, error)
}

// CheckoutHandler 決済検証ハンドラー
type CheckoutHandler struct {
	checkoutService CheckoutService
}

// NewCheckoutHandler 新しいCheckoutHandlerを作成
func NewCheckoutHandler(checkoutService CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{checkoutService: checkoutService}
}

// Checkout 決済検証ハンドラー
// @Summary 注文を検証してPENDINGで作成
// @Description 価格・クーポン・上限を検証し、クッキー払いの場合は残高を確保します
// @Tags checkout
// @Accept json
// @Produce json
// @Security Bearer
// @Param Idempotency-Key header string true "冪等性キー"
// @Param request body CheckoutRequest true "決済検証リクエスト"
// @Success 201 {object} ReceiptResponse "作成"
// @Success 200 {object} ReceiptResponse "同じキーの再送"
// @Failure 400 {object} middleware.ErrorResponse "検証エラー"
// @Failure 409 {object} middleware.ErrorResponse "処理中"
// @Router /checkout [post]
func (h *CheckoutHandler) Checkout(c echo.Context) error {
	userID, err := userIDFrom(c)
	if err != nil {
		return err
	}

	var body CheckoutRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	items := make([]checkoutapp.ItemInput, len(body.Items))
	for i, it := range body.Items {
		items[i] = checkoutapp.ItemInput{
			ItemType:  it.ItemType,
			ItemID:    it.ItemID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		}
	}

	resp, err := h.checkoutService.Checkout(c.Request().Context(), &checkoutapp.CheckoutRequest{
		UserID:             userID,
		IdempotencyKey:     idempotencyKeyFrom(c),
		Items:              items,
		PaymentMethod:      body.PaymentMethod,
		CashAmount:         body.CashAmount,
		CookieAmount:       body.CookieAmount,
		CouponRedemptionID: body.CouponRedemptionID,
	})
	if err != nil {
		return err
	}

	if resp.Replayed {
		c.Response().Header().Set(HeaderReplayed, "true")
		return c.JSON(http.StatusOK, resp.Receipt)
	}
	return c.JSON(http.StatusCreated, resp.Receipt)
}

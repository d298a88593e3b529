package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	adminapp "cookie-wallet/internal/application/admin"
	couponapp "cookie-wallet/internal/application/coupon"
	walletapp "cookie-wallet/internal/application/wallet"
)

// AdminService 管理操作
type AdminService interface {
	Grant(ctx context.Context, req *adminapp.GrantRequest) (*adminapp.GrantResponse, error)
	IssueCoupon(ctx context.Context, userID, couponID, operator string) (*couponapp.UserCouponDetail, error)
	Reconcile(ctx context.Context, userID string) (*walletapp.ReconcileResponse, error)
}

// AdminHandler 管理APIハンドラー
type AdminHandler struct {
	adminService AdminService
}

// NewAdminHandler 新しいAdminHandlerを作成
func NewAdminHandler(adminService AdminService) *AdminHandler {
	return &AdminHandler{adminService: adminService}
}

// Grant クッキー付与ハンドラー
// @Summary ユーザーにクッキーを付与
// @Tags admin
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param user_id path string true "ユーザーID"
// @Param request body GrantRequest true "付与リクエスト"
// @Success 201 {object} admin.GrantResponse "付与済み"
// @Failure 400 {object} middleware.ErrorResponse "不正なリクエスト"
// @Router /admin/users/{user_id}/grants [post]
func (h *AdminHandler) Grant(c echo.Context) error {
	var body GrantRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	resp, err := h.adminService.Grant(c.Request().Context(), &adminapp.GrantRequest{
		UserID:    c.Param("user_id"),
		Amount:    body.Amount,
		Kind:      body.Kind,
		ExpiresAt: body.ExpiresAt,
		Reason:    body.Reason,
		Operator:  operatorFrom(c),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, resp)
}

// IssueCoupon クーポン発行ハンドラー
// @Summary ユーザーにクーポンを発行
// @Tags admin
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param user_id path string true "ユーザーID"
// @Param request body IssueCouponRequest true "発行リクエスト"
// @Success 201 {object} CouponResponse "発行済み"
// @Router /admin/users/{user_id}/coupons [post]
func (h *AdminHandler) IssueCoupon(c echo.Context) error {
	var body IssueCouponRequest
	if err := c.Bind(&body); err != nil || body.CouponID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "coupon_id is required")
	}

	uc, err := h.adminService.IssueCoupon(c.Request().Context(), c.Param("user_id"), body.CouponID, operatorFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, CouponResponse{
		UserCouponID:    uc.UserCouponID,
		CouponID:        uc.CouponID,
		Name:            uc.Name,
		DiscountType:    uc.DiscountType,
		Rate:            uc.Rate,
		DiscountValue:   uc.DiscountValue,
		MaximumDiscount: uc.MaximumDiscount,
		MinimumAmount:   uc.MinimumAmount,
		Status:          uc.Status,
		ExpiresAt:       uc.ExpiresAt,
	})
}

// Reconcile ウォレット照合ハンドラー
// @Summary 台帳と残高とバッチの整合性を確認
// @Tags admin
// @Produce json
// @Security ApiKeyAuth
// @Param user_id path string true "ユーザーID"
// @Success 200 {object} ReconcileResponse "一致"
// @Failure 404 {object} middleware.ErrorResponse "ユーザーなし"
// @Router /admin/users/{user_id}/reconcile [get]
func (h *AdminHandler) Reconcile(c echo.Context) error {
	res, err := h.adminService.Reconcile(c.Request().Context(), c.Param("user_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ReconcileResponse{
		UserID:         res.UserID,
		Amount:         res.Amount,
		LedgerSum:      res.LedgerSum,
		BatchRemainSum: res.BatchRemainSum,
		Consistent:     res.Consistent,
	})
}

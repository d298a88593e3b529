package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	couponapp "cookie-wallet/internal/application/coupon"
	walletapp "cookie-wallet/internal/application/wallet"
)

const defaultLedgerLimit = 50

// WalletQueryService ウォレットの参照
type WalletQueryService interface {
	GetWallet(ctx context.Context, userID string) (*walletapp.WalletResponse, error)
	History(ctx context.Context, userID string, limit, offset int) (*walletapp.HistoryResponse, error)
}

// CouponQueryService クーポンの参照
type CouponQueryService interface {
	ListAvailable(ctx context.Context, userID string) ([]couponapp.UserCouponDetail, error)
}

// WalletHandler ウォレット参照ハンドラー
type WalletHandler struct {
	walletService WalletQueryService
	couponService CouponQueryService
}

// NewWalletHandler 新しいWalletHandlerを作成
func NewWalletHandler(walletService WalletQueryService, couponService CouponQueryService) *WalletHandler {
	return &WalletHandler{
		walletService: walletService,
		couponService: couponService,
	}
}

// GetWallet 残高取得ハンドラー
// @Summary 自分のクッキー残高とバッチを取得
// @Tags wallet
// @Produce json
// @Security Bearer
// @Success 200 {object} WalletResponse "残高"
// @Router /wallet [get]
func (h *WalletHandler) GetWallet(c echo.Context) error {
	userID, err := userIDFrom(c)
	if err != nil {
		return err
	}

	w, err := h.walletService.GetWallet(c.Request().Context(), userID)
	if err != nil {
		return err
	}

	batches := make([]BatchResponse, len(w.Batches))
	for i, b := range w.Batches {
		batches[i] = BatchResponse{
			BatchID:   b.BatchID,
			BatchType: b.BatchType,
			Source:    b.Source,
			QtyTotal:  b.QtyTotal,
			QtyRemain: b.QtyRemain,
			ExpiresAt: b.ExpiresAt,
			CreatedAt: b.CreatedAt,
		}
	}
	return c.JSON(http.StatusOK, WalletResponse{
		UserID:       w.UserID,
		Amount:       w.Amount,
		FrozenAmount: w.FrozenAmount,
		Available:    w.Available,
		DailyLimit:   w.DailyLimit,
		MonthlyLimit: w.MonthlyLimit,
		Batches:      batches,
	})
}

// GetLedger 台帳履歴ハンドラー
// @Summary 自分の台帳履歴を新しい順に取得
// @Tags wallet
// @Produce json
// @Security Bearer
// @Param limit query int false "取得件数（最大200）"
// @Param offset query int false "オフセット"
// @Success 200 {object} LedgerResponse "履歴"
// @Failure 400 {object} middleware.ErrorResponse "不正なページング"
// @Router /wallet/ledger [get]
func (h *WalletHandler) GetLedger(c echo.Context) error {
	userID, err := userIDFrom(c)
	if err != nil {
		return err
	}

	limit, err := queryInt(c, "limit", defaultLedgerLimit)
	if err != nil || limit <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
	}
	limit = min(limit, walletapp.MaxHistoryLimit)
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid offset")
	}

	history, err := h.walletService.History(c.Request().Context(), userID, limit, offset)
	if err != nil {
		return err
	}

	entries := make([]LedgerEntryResponse, len(history.Entries))
	for i, e := range history.Entries {
		entries[i] = LedgerEntryResponse{
			EntryID:       e.EntryID,
			EntryType:     e.EntryType,
			CookieAmount:  e.CookieAmount,
			BalanceAfter:  e.BalanceAfter,
			ReferenceType: e.ReferenceType,
			ReferenceID:   e.ReferenceID,
			CreatedAt:     e.CreatedAt,
		}
	}
	return c.JSON(http.StatusOK, LedgerResponse{Entries: entries, Limit: history.Limit, Offset: history.Offset})
}

// ListCoupons クーポン一覧ハンドラー
// @Summary 自分の利用可能なクーポンを取得
// @Tags wallet
// @Produce json
// @Security Bearer
// @Success 200 {array} CouponResponse "クーポン"
// @Router /coupons [get]
func (h *WalletHandler) ListCoupons(c echo.Context) error {
	userID, err := userIDFrom(c)
	if err != nil {
		return err
	}

	coupons, err := h.couponService.ListAvailable(c.Request().Context(), userID)
	if err != nil {
		return err
	}

	res := make([]CouponResponse, len(coupons))
	for i, uc := range coupons {
		res[i] = CouponResponse{
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
		}
	}
	return c.JSON(http.StatusOK, res)
}

func queryInt(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

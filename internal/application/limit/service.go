package limit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"cookie-wallet/internal/domain/order"
	"cookie-wallet/internal/domain/wallet"
	otelinfra "cookie-wallet/internal/infrastructure/observability/otel"
)

// Settings 全体の上限。0は無制限
type Settings struct {
	DailyCash   int64
	DailyCookie int64
	Location    *time.Location // 日・月の区切りに使うタイムゾーン
}

// LimitApplicationService 利用上限の検証サービス（読み取りのみ）
type LimitApplicationService struct {
	spending    order.SpendingReader
	balanceRepo wallet.BalanceRepository
	settings    Settings
	logger      *otelinfra.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewLimitApplicationService 新しいLimitApplicationServiceを作成
func NewLimitApplicationService(
	spending order.SpendingReader,
	balanceRepo wallet.BalanceRepository,
	settings Settings,
	logger *otelinfra.Logger,
) *LimitApplicationService {
	if settings.Location == nil {
		settings.Location = time.UTC
	}
	return &LimitApplicationService{
		spending:    spending,
		balanceRepo: balanceRepo,
		settings:    settings,
		logger:      logger,
		tracer:      otel.Tracer("limit-service"),
		now:         time.Now,
	}
}

// CheckDailyLimit 今回の支払いを加えても上限内か検証する。
// 現金は日次、クッキーは日次と（設定されていれば）月次を確認する
func (s *LimitApplicationService) CheckDailyLimit(ctx context.Context, userID string, cashAmount, cookieAmount int64) error {
	ctx, span := s.tracer.Start(ctx, "LimitApplicationService.CheckDailyLimit")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.Int64("cash_amount", cashAmount),
		attribute.Int64("cookie_amount", cookieAmount),
	)

	err := s.check(ctx, userID, cashAmount, cookieAmount)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		var exceeded *LimitExceededError
		if errors.As(err, &exceeded) {
			s.logger.Warn(ctx, "Spending limit exceeded", map[string]interface{}{
				"user_id":   userID,
				"currency":  exceeded.Currency,
				"period":    exceeded.Period,
				"limit":     exceeded.Limit,
				"attempted": exceeded.Attempted,
			})
		} else {
			s.logger.Error(ctx, "Failed to check spending limit", err, map[string]interface{}{"user_id": userID})
		}
	}
	return err
}

func (s *LimitApplicationService) check(ctx context.Context, userID string, cashAmount, cookieAmount int64) error {
	local := s.now().In(s.settings.Location)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.settings.Location)
	dayEnd := dayStart.AddDate(0, 0, 1)

	if cashAmount > 0 && s.settings.DailyCash > 0 {
		if err := s.checkPeriod(ctx, userID, order.PaymentMethodCash, PeriodDaily, s.settings.DailyCash, cashAmount, dayStart, dayEnd); err != nil {
			return err
		}
	}
	if cookieAmount <= 0 {
		return nil
	}

	dailyCap := s.settings.DailyCookie
	var monthlyCap int64
	bal, err := s.balanceRepo.FindByUserID(ctx, userID)
	switch {
	case errors.Is(err, wallet.ErrWalletNotFound):
	case err != nil:
		return fmt.Errorf("failed to get wallet limits: %w", err)
	default:
		if bal.DailyLimit() > 0 {
			dailyCap = bal.DailyLimit()
		}
		monthlyCap = bal.MonthlyLimit()
	}

	if dailyCap > 0 {
		if err := s.checkPeriod(ctx, userID, order.PaymentMethodCookie, PeriodDaily, dailyCap, cookieAmount, dayStart, dayEnd); err != nil {
			return err
		}
	}
	if monthlyCap > 0 {
		monthStart := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, s.settings.Location)
		if err := s.checkPeriod(ctx, userID, order.PaymentMethodCookie, PeriodMonthly, monthlyCap, cookieAmount, monthStart, monthStart.AddDate(0, 1, 0)); err != nil {
			return err
		}
	}
	return nil
}

func (s *LimitApplicationService) checkPeriod(ctx context.Context, userID string, method order.PaymentMethod, period string, limit, amount int64, from, to time.Time) error {
	spent, err := s.spending.SumSettledSpend(ctx, userID, method, from.UTC(), to.UTC())
	if err != nil {
		return fmt.Errorf("failed to sum settled spend: %w", err)
	}
	attempted := spent + amount
	if attempted <= limit {
		return nil
	}
	return &LimitExceededError{
		Currency:  method.String(),
		Period:    period,
		Limit:     limit,
		Attempted: attempted,
		Excess:    attempted - limit,
	}
}

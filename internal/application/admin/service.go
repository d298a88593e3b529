package admin

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	couponapp "cookie-wallet/internal/application/coupon"
	walletapp "cookie-wallet/internal/application/wallet"
	"cookie-wallet/internal/domain/apperr"
	"cookie-wallet/internal/domain/port"
	"cookie-wallet/internal/domain/wallet"
	otelinfra "cookie-wallet/internal/infrastructure/observability/otel"
)

// ErrInvalidGrantKind 付与の種類が不正
var ErrInvalidGrantKind = apperr.Validation("invalid_grant_kind", "grant kind must be BONUS or ADMIN")

// WalletAdmin 運用者向けのウォレット操作
type WalletAdmin interface {
	Credit(ctx context.Context, req *walletapp.CreditRequest) (*walletapp.MutationResponse, error)
	Reconcile(ctx context.Context, userID string) (*walletapp.ReconcileResponse, error)
}

// CouponIssuer クーポンの発行
type CouponIssuer interface {
	Issue(ctx context.Context, userID, couponID string) (*couponapp.UserCouponDetail, error)
}

// AdminApplicationService 運用者向けサービス
type AdminApplicationService struct {
	wallet  WalletAdmin
	coupons CouponIssuer
	users   port.UserDirectory
	audit   port.AuditWriter
	logger  *otelinfra.Logger
	tracer  trace.Tracer
	newID   func() string
}

// NewAdminApplicationService 新しいAdminApplicationServiceを作成
func NewAdminApplicationService(
	walletAdmin WalletAdmin,
	coupons CouponIssuer,
	users port.UserDirectory,
	audit port.AuditWriter,
	logger *otelinfra.Logger,
) *AdminApplicationService {
	return &AdminApplicationService{
		wallet:  walletAdmin,
		coupons: coupons,
		users:   users,
		audit:   audit,
		logger:  logger,
		tracer:  otel.Tracer("admin-service"),
		newID:   uuid.NewString,
	}
}

func failSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
}

func (s *AdminApplicationService) ensureUser(ctx context.Context, userID string) error {
	exists, err := s.users.Exists(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}
	if !exists {
		return port.ErrUserNotFound
	}
	return nil
}

func (s *AdminApplicationService) writeAudit(ctx context.Context, entry port.AuditEntry) {
	if err := s.audit.Write(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Warn(ctx, "Failed to write audit log", map[string]interface{}{
			"action": entry.Action,
			"error":  err.Error(),
		})
	}
}

// Grant ユーザーにクッキーを付与する
func (s *AdminApplicationService) Grant(ctx context.Context, req *GrantRequest) (*GrantResponse, error) {
	ctx, span := s.tracer.Start(ctx, "AdminApplicationService.Grant")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_id", req.UserID),
		attribute.Int64("amount", req.Amount),
		attribute.String("kind", req.Kind),
	)

	var batchType wallet.BatchType
	var source wallet.BatchSource
	switch req.Kind {
	case GrantKindBonus:
		batchType, source = wallet.BatchTypeFree, wallet.BatchSourceBonus
	case GrantKindAdmin:
		batchType, source = wallet.BatchTypePaid, wallet.BatchSourceAdmin
	default:
		failSpan(span, ErrInvalidGrantKind)
		return nil, ErrInvalidGrantKind
	}
	if err := s.ensureUser(ctx, req.UserID); err != nil {
		failSpan(span, err)
		return nil, err
	}

	grantID := s.newID()
	res, err := s.wallet.Credit(ctx, &walletapp.CreditRequest{
		UserID:    req.UserID,
		Amount:    req.Amount,
		BatchType: batchType,
		Source:    source,
		ExpiresAt: req.ExpiresAt,
		Reference: wallet.Reference{Type: wallet.ReferenceTypeGrant, ID: grantID},
	})
	if err != nil {
		failSpan(span, err)
		return nil, err
	}

	s.writeAudit(ctx, port.AuditEntry{
		UserID:      req.UserID,
		Action:      "COOKIE_GRANTED",
		ReferenceID: grantID,
		Detail: map[string]interface{}{
			"amount":   req.Amount,
			"kind":     req.Kind,
			"reason":   req.Reason,
			"operator": req.Operator,
		},
	})
	s.logger.Info(ctx, "Cookies granted", map[string]interface{}{
		"user_id":  req.UserID,
		"grant_id": grantID,
		"amount":   req.Amount,
		"kind":     req.Kind,
		"operator": req.Operator,
	})

	return &GrantResponse{
		GrantID:      grantID,
		UserID:       req.UserID,
		Amount:       req.Amount,
		BatchType:    batchType.String(),
		BalanceAfter: res.BalanceAfter,
	}, nil
}

// IssueCoupon ユーザーにクーポンを発行する
func (s *AdminApplicationService) IssueCoupon(ctx context.Context, userID, couponID, operator string) (*couponapp.UserCouponDetail, error) {
	ctx, span := s.tracer.Start(ctx, "AdminApplicationService.IssueCoupon")
	defer span.End()

	span.SetAttributes(attribute.String("user_id", userID), attribute.String("coupon_id", couponID))

	if err := s.ensureUser(ctx, userID); err != nil {
		failSpan(span, err)
		return nil, err
	}
	detail, err := s.coupons.Issue(ctx, userID, couponID)
	if err != nil {
		failSpan(span, err)
		return nil, err
	}

	s.writeAudit(ctx, port.AuditEntry{
		UserID:      userID,
		Action:      "COUPON_ISSUED",
		ReferenceID: detail.UserCouponID,
		Detail:      map[string]interface{}{"coupon_id": couponID, "operator": operator},
	})
	return detail, nil
}

// Reconcile 台帳・残高・バッチの整合性を確認する
func (s *AdminApplicationService) Reconcile(ctx context.Context, userID string) (*walletapp.ReconcileResponse, error) {
	ctx, span := s.tracer.Start(ctx, "AdminApplicationService.Reconcile")
	defer span.End()

	span.SetAttributes(attribute.String("user_id", userID))

	res, err := s.wallet.Reconcile(ctx, userID)
	if err != nil {
		failSpan(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Bool("consistent", res.Consistent))
	return res, nil
}

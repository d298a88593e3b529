package port

import (
	"context"

	"cookie-wallet/internal/domain/apperr"
	"cookie-wallet/internal/domain/order"
)

var (
	// ErrGatewayDeclined 決済が拒否された
	ErrGatewayDeclined = apperr.Validation("payment_declined", "payment was declined by the gateway")
	// ErrGatewayUnavailable 決済ゲートウェイに到達できない
	ErrGatewayUnavailable = apperr.Infrastructure("gateway_unavailable", "payment gateway unavailable")
)

// PaymentGateway 外部決済ゲートウェイ（現金の与信・売上確定・取消）
type PaymentGateway interface {
	// AuthorizeAndCapture 与信と売上確定を行い、ゲートウェイ参照を返す
	AuthorizeAndCapture(ctx context.Context, method order.PaymentMethod, amount int64, orderID string) (string, error)

	// Cancel 売上を取り消す（部分取消を含む）
	Cancel(ctx context.Context, gatewayRef string, amount int64) error
}

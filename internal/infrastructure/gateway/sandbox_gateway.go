package gateway

import (
	"context"

	"cookie-wallet/internal/domain/order"
	"cookie-wallet/internal/domain/port"
)

// SandboxGateway GATEWAY_BASE_URL未設定時に使う常に承認するゲートウェイ（開発用）
type SandboxGateway struct{}

// AuthorizeAndCapture 注文IDから参照を作って承認する
func (SandboxGateway) AuthorizeAndCapture(_ context.Context, _ order.PaymentMethod, amount int64, orderID string) (string, error) {
	if amount < 0 {
		return "", port.ErrGatewayDeclined
	}
	return "sandbox_" + orderID, nil
}

// Cancel 常に成功
func (SandboxGateway) Cancel(context.Context, string, int64) error {
	return nil
}

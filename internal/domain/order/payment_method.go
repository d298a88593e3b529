package order

import "fmt"

// PaymentMethod 支払い方法
type PaymentMethod string

const (
	PaymentMethodCash   PaymentMethod = "CASH"   // 現金（外部決済ゲートウェイ）
	PaymentMethodCookie PaymentMethod = "COOKIE" // クッキー（仮想通貨）
	PaymentMethodMixed  PaymentMethod = "MIXED"  // 併用（未対応）
)

// NewPaymentMethod 新しいPaymentMethodを作成
func NewPaymentMethod(s string) (PaymentMethod, error) {
	switch s {
	case "CASH", "COOKIE", "MIXED":
		return PaymentMethod(s), nil
	default:
		return "", fmt.Errorf("invalid payment method: %s", s)
	}
}

// String 文字列表現を返す
func (m PaymentMethod) String() string {
	return string(m)
}

// IsCookie クッキー払いかどうかを返す
func (m PaymentMethod) IsCookie() bool {
	return m == PaymentMethodCookie
}

// IsCash 現金払いかどうかを返す
func (m PaymentMethod) IsCash() bool {
	return m == PaymentMethodCash
}

// SplitPayment 申告された現金額とクッキー額から支払い方法を決定する。
// 現金とクッキーの併用は未対応のためErrMixedPaymentUnsupportedを返す。
func SplitPayment(declared PaymentMethod, cashAmount, cookieAmount int64) (PaymentMethod, error) {
	if cashAmount < 0 || cookieAmount < 0 {
		return "", ErrInvalidAmount
	}
	if declared == PaymentMethodMixed || (cashAmount > 0 && cookieAmount > 0) {
		return "", ErrMixedPaymentUnsupported
	}

	var derived PaymentMethod
	switch {
	case cashAmount > 0:
		derived = PaymentMethodCash
	case cookieAmount > 0:
		derived = PaymentMethodCookie
	default:
		// 0円注文（全額クーポン等）は申告された方法に従う
		if declared != PaymentMethodCash && declared != PaymentMethodCookie {
			return "", ErrPaymentMethodMismatch
		}
		return declared, nil
	}

	if declared != "" && declared != derived {
		return "", ErrPaymentMethodMismatch
	}
	return derived, nil
}

package order

import "math"

// MaxBundleQuantity 1明細で購入できるバンドルの最大数
const MaxBundleQuantity = 100

// MulAmount 非負の金額どうしの積。int64を超える場合はErrAmountTooLarge
func MulAmount(a, b int64) (int64, error) {
	if a < 0 || b < 0 {
		return 0, ErrInvalidAmount
	}
	if a != 0 && b > math.MaxInt64/a {
		return 0, ErrAmountTooLarge
	}
	return a * b, nil
}

// AddAmount 非負の金額どうしの和。int64を超える場合はErrAmountTooLarge
func AddAmount(a, b int64) (int64, error) {
	if a < 0 || b < 0 {
		return 0, ErrInvalidAmount
	}
	if a > math.MaxInt64-b {
		return 0, ErrAmountTooLarge
	}
	return a + b, nil
}

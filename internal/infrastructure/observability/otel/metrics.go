package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// 結果ラベル
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeReplayed = "replayed"
)

// Metrics メトリクス定義
type Metrics struct {
	// チェックアウト件数（結果・支払い方法別）
	CheckoutCount metric.Int64Counter

	// 決済確定件数
	SettlementCount metric.Int64Counter

	// 返金件数と返金額
	RefundCount  metric.Int64Counter
	RefundAmount metric.Int64Counter

	// 台帳に記録したクッキー数（エントリ種別別、絶対値）
	LedgerCookies metric.Int64Counter

	// クーポンの状態遷移
	CouponTransitionCount metric.Int64Counter

	// 冪等キーによる再生
	IdempotencyReplayCount metric.Int64Counter

	// バックグラウンドジョブが処理した件数
	SweepCount metric.Int64Counter

	// 台帳と残高の不整合
	LedgerInconsistencyCount metric.Int64Counter

	// リクエスト数
	RequestCount metric.Int64Counter

	// レスポンス時間
	ResponseTime metric.Float64Histogram

	// エラー数
	ErrorCount metric.Int64Counter
}

// NewMetrics グローバルのメータープロバイダーからMetricsを作成
func NewMetrics(meterName string) (*Metrics, error) {
	return NewMetricsWithMeter(otel.Meter(meterName))
}

// NewMetricsWithMeter 指定したメーターでMetricsを作成
func NewMetricsWithMeter(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.CheckoutCount, "checkouts_total", "Total number of checkout validations"},
		{&m.SettlementCount, "settlements_total", "Total number of settlement attempts"},
		{&m.RefundCount, "refunds_total", "Total number of refunds"},
		{&m.RefundAmount, "refund_amount_total", "Total refunded amount"},
		{&m.LedgerCookies, "ledger_cookies_total", "Cookies moved through the ledger"},
		{&m.CouponTransitionCount, "coupon_transitions_total", "Coupon redemption status transitions"},
		{&m.IdempotencyReplayCount, "idempotency_replays_total", "Requests answered from an idempotency record"},
		{&m.SweepCount, "sweeps_total", "Rows processed by background jobs"},
		{&m.LedgerInconsistencyCount, "ledger_inconsistencies_total", "Wallets whose ledger sum disagrees with the balance"},
		{&m.RequestCount, "requests_total", "Total number of requests"},
		{&m.ErrorCount, "errors_total", "Total number of errors"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
	}

	m.ResponseTime, err = meter.Float64Histogram(
		"response_time_seconds",
		metric.WithDescription("Response time in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordCheckout チェックアウトの結果を記録
func (m *Metrics) RecordCheckout(ctx context.Context, outcome, paymentMethod string) {
	m.CheckoutCount.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.String("payment_method", paymentMethod),
		),
	)
}

// RecordSettlement 決済確定の結果を記録
func (m *Metrics) RecordSettlement(ctx context.Context, outcome, paymentMethod string) {
	m.SettlementCount.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.String("payment_method", paymentMethod),
		),
	)
}

// RecordRefund 返金を記録
func (m *Metrics) RecordRefund(ctx context.Context, outcome, paymentMethod string, amount int64) {
	attrs := metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("payment_method", paymentMethod),
	)
	m.RefundCount.Add(ctx, 1, attrs)
	if outcome == OutcomeSuccess && amount > 0 {
		m.RefundAmount.Add(ctx, amount, attrs)
	}
}

// RecordLedger 台帳エントリを記録
func (m *Metrics) RecordLedger(ctx context.Context, entryType string, quantity int64) {
	if quantity < 0 {
		quantity = -quantity
	}
	m.LedgerCookies.Add(ctx, quantity,
		metric.WithAttributes(attribute.String("entry_type", entryType)),
	)
}

// RecordCouponTransition クーポンの状態遷移を記録
func (m *Metrics) RecordCouponTransition(ctx context.Context, from, to string) {
	m.CouponTransitionCount.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordIdempotencyReplay 冪等再生を記録
func (m *Metrics) RecordIdempotencyReplay(ctx context.Context, scope string) {
	m.IdempotencyReplayCount.Add(ctx, 1,
		metric.WithAttributes(attribute.String("scope", scope)),
	)
}

// RecordSweep ジョブの処理件数を記録
func (m *Metrics) RecordSweep(ctx context.Context, job string, processed int64) {
	if processed <= 0 {
		return
	}
	m.SweepCount.Add(ctx, processed,
		metric.WithAttributes(attribute.String("job", job)),
	)
}

// RecordLedgerInconsistency 不整合の検出を記録
func (m *Metrics) RecordLedgerInconsistency(ctx context.Context) {
	m.LedgerInconsistencyCount.Add(ctx, 1)
}

// RecordRequest リクエストを記録
func (m *Metrics) RecordRequest(ctx context.Context, method, path string) {
	m.RequestCount.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("path", path),
		),
	)
}

// RecordResponseTime レスポンス時間を記録
func (m *Metrics) RecordResponseTime(ctx context.Context, method, path string, duration float64) {
	m.ResponseTime.Record(ctx, duration,
		metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("path", path),
		),
	)
}

// RecordError エラーを記録
func (m *Metrics) RecordError(ctx context.Context, errorType string) {
	m.ErrorCount.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("error_type", errorType),
		),
	)
}

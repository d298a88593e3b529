package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"cookie-wallet/internal/domain/order"
	"cookie-wallet/internal/domain/port"
	"cookie-wallet/internal/infrastructure/config"
)

// HTTPGateway 外部決済ゲートウェイのHTTPクライアント
type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
	tracer  trace.Tracer
}

// NewHTTPGateway 新しいHTTPGatewayを作成
func NewHTTPGateway(cfg *config.GatewayConfig) *HTTPGateway {
	return &HTTPGateway{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
		tracer:  otel.Tracer("payment-gateway"),
	}
}

type captureRequest struct {
	OrderID string `json:"order_id"`
	Method  string `json:"method"`
	Amount  int64  `json:"amount"`
}

type captureResponse struct {
	GatewayRef string `json:"gateway_ref"`
}

type cancelRequest struct {
	Amount int64 `json:"amount"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AuthorizeAndCapture 与信と売上確定を一度に行う。注文IDを冪等キーとして送る
func (g *HTTPGateway) AuthorizeAndCapture(ctx context.Context, method order.PaymentMethod, amount int64, orderID string) (string, error) {
	ctx, span := g.tracer.Start(ctx, "HTTPGateway.AuthorizeAndCapture", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("payment.order_id", orderID),
		attribute.String("payment.method", method.String()),
		attribute.Int64("payment.amount", amount),
	)

	var resp captureResponse
	if err := g.post(ctx, "/v1/payments", orderID, captureRequest{OrderID: orderID, Method: method.String(), Amount: amount}, &resp); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return "", err
	}
	if resp.GatewayRef == "" {
		err := fmt.Errorf("%w: empty gateway reference", port.ErrGatewayUnavailable)
		span.SetStatus(otelcodes.Error, err.Error())
		return "", err
	}

	span.SetAttributes(attribute.String("payment.gateway_ref", resp.GatewayRef))
	span.SetStatus(otelcodes.Ok, "payment captured")
	return resp.GatewayRef, nil
}

// Cancel 売上を取り消す。amountが売上額より小さい場合は部分取消
func (g *HTTPGateway) Cancel(ctx context.Context, gatewayRef string, amount int64) error {
	ctx, span := g.tracer.Start(ctx, "HTTPGateway.Cancel", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("payment.gateway_ref", gatewayRef),
		attribute.Int64("payment.amount", amount),
	)

	path := "/v1/payments/" + url.PathEscape(gatewayRef) + "/cancel"
	if err := g.post(ctx, path, "", cancelRequest{Amount: amount}, nil); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return err
	}

	span.SetStatus(otelcodes.Ok, "payment cancelled")
	return nil
}

func (g *HTTPGateway) post(ctx context.Context, path, idempotencyKey string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", port.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %v", port.ErrGatewayUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%w: malformed response: %v", port.ErrGatewayUnavailable, err)
		}
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", port.ErrGatewayUnavailable, resp.StatusCode)
	default:
		var e errorResponse
		_ = json.Unmarshal(raw, &e)
		return fmt.Errorf("%w: status %d %s %s", port.ErrGatewayDeclined, resp.StatusCode, e.Code, e.Message)
	}
}

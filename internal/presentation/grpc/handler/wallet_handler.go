package handler

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	checkoutapp "cookie-wallet/internal/application/checkout"
	"cookie-wallet/internal/application/receipt"
	refundapp "cookie-wallet/internal/application/refund"
	walletapp "cookie-wallet/internal/application/wallet"
	"cookie-wallet/internal/presentation/grpc/interceptor"
)

// MetadataIdempotencyKey 冪等性キーを運ぶメタデータ
const MetadataIdempotencyKey = "idempotency-key"

// MetadataReplayed 再送に対するレスポンスであることを示すメタデータ
const MetadataReplayed = "idempotent-replayed"

const maxIdempotencyKeyLength = 255

// WalletReader 残高の参照
type WalletReader interface {
	GetWallet(ctx context.Context, userID string) (*walletapp.WalletResponse, error)
}

// Checkouter 決済検証
type Checkouter interface {
	Checkout(ctx context.Context, req *checkoutapp.CheckoutRequest) (*checkoutapp.CheckoutResponse, error)
}

// Settler 決済確定
type Settler interface {
	Settle(ctx context.Context, userID, orderID string) (*receipt.Receipt, error)
}

// Refunder 返金
type Refunder interface {
	Refund(ctx context.Context, req *refundapp.RefundRequest) (*refundapp.RefundResponse, error)
}

// WalletHandler ウォレットサービスのgRPC実装
type WalletHandler struct {
	wallet   WalletReader
	checkout Checkouter
	settler  Settler
	refunder Refunder
}

// NewWalletHandler 新しいWalletHandlerを作成
func NewWalletHandler(wallet WalletReader, checkout Checkouter, settler Settler, refunder Refunder) *WalletHandler {
	return &WalletHandler{
		wallet:   wallet,
		checkout: checkout,
		settler:  settler,
		refunder: refunder,
	}
}

var _ WalletServiceServer = (*WalletHandler)(nil)

type batchMessage struct {
	BatchID   string `json:"batch_id"`
	BatchType string `json:"batch_type"`
	Source    string `json:"source"`
	QtyTotal  int64  `json:"qty_total"`
	QtyRemain int64  `json:"qty_remain"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

type walletMessage struct {
	UserID       string         `json:"user_id"`
	Amount       int64          `json:"amount"`
	FrozenAmount int64          `json:"frozen_amount"`
	Available    int64          `json:"available"`
	DailyLimit   int64          `json:"daily_limit"`
	MonthlyLimit int64          `json:"monthly_limit"`
	Batches      []batchMessage `json:"batches"`
}

type orderMessage struct {
	OrderID string `json:"order_id"`
}

type refundMessage struct {
	OrderID     string   `json:"order_id"`
	LineItemIDs []string `json:"line_item_ids"`
	Amount      int64    `json:"amount"`
	Reason      string   `json:"reason"`
}

func userID(ctx context.Context) (string, error) {
	id, ok := interceptor.UserIDFromContext(ctx)
	if !ok || id == "" {
		return "", status.Error(codes.Unauthenticated, "missing user")
	}
	return id, nil
}

// idempotencyKey メタデータから冪等性キーを取り出す
func idempotencyKey(ctx context.Context) (string, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	values := md.Get(MetadataIdempotencyKey)
	if len(values) == 0 || strings.TrimSpace(values[0]) == "" {
		return "", status.Error(codes.InvalidArgument, "idempotency-key metadata is required")
	}
	if len(values[0]) > maxIdempotencyKeyLength {
		return "", status.Error(codes.InvalidArgument, "idempotency-key is too long")
	}
	return values[0], nil
}

func markReplayed(ctx context.Context) {
	// ヘッダー送信の失敗はレスポンス本体に影響しない
	_ = grpc.SetHeader(ctx, metadata.Pairs(MetadataReplayed, "true"))
}

// GetWallet 自分の残高とバッチ
func (h *WalletHandler) GetWallet(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	uid, err := userID(ctx)
	if err != nil {
		return nil, err
	}
	w, err := h.wallet.GetWallet(ctx, uid)
	if err != nil {
		return nil, toStatus(err)
	}

	msg := walletMessage{
		UserID:       w.UserID,
		Amount:       w.Amount,
		FrozenAmount: w.FrozenAmount,
		Available:    w.Available,
		DailyLimit:   w.DailyLimit,
		MonthlyLimit: w.MonthlyLimit,
		Batches:      make([]batchMessage, len(w.Batches)),
	}
	for i, b := range w.Batches {
		msg.Batches[i] = batchMessage{
			BatchID:   b.BatchID,
			BatchType: b.BatchType,
			Source:    b.Source,
			QtyTotal:  b.QtyTotal,
			QtyRemain: b.QtyRemain,
		}
		if b.ExpiresAt != nil {
			msg.Batches[i].ExpiresAt = b.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z")
		}
	}
	return encode(msg)
}

// Checkout 注文を検証してPENDINGで作成
func (h *WalletHandler) Checkout(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	uid, err := userID(ctx)
	if err != nil {
		return nil, err
	}
	key, err := idempotencyKey(ctx)
	if err != nil {
		return nil, err
	}

	var req checkoutapp.CheckoutRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	req.UserID = uid
	req.IdempotencyKey = key

	resp, err := h.checkout.Checkout(ctx, &req)
	if err != nil {
		return nil, toStatus(err)
	}
	if resp.Replayed {
		markReplayed(ctx)
	}
	return encode(resp.Receipt)
}

// Settle PENDINGの注文を決済
func (h *WalletHandler) Settle(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	uid, err := userID(ctx)
	if err != nil {
		return nil, err
	}
	var req orderMessage
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if req.OrderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}

	rec, err := h.settler.Settle(ctx, uid, req.OrderID)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(rec)
}

// Refund 決済済みの注文を返金
func (h *WalletHandler) Refund(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	uid, err := userID(ctx)
	if err != nil {
		return nil, err
	}
	key, err := idempotencyKey(ctx)
	if err != nil {
		return nil, err
	}
	var req refundMessage
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if req.OrderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}

	resp, err := h.refunder.Refund(ctx, &refundapp.RefundRequest{
		UserID:         uid,
		OrderID:        req.OrderID,
		IdempotencyKey: key,
		LineItemIDs:    req.LineItemIDs,
		Amount:         req.Amount,
		Reason:         req.Reason,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	if resp.Replayed {
		markReplayed(ctx)
	}
	return encode(resp)
}

package handler

import (
	"context"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	adminapp "cookie-wallet/internal/application/admin"
	walletapp "cookie-wallet/internal/application/wallet"
	"cookie-wallet/internal/presentation/grpc/interceptor"
)

// AdminOperations 管理操作
type AdminOperations interface {
	Grant(ctx context.Context, req *adminapp.GrantRequest) (*adminapp.GrantResponse, error)
	Reconcile(ctx context.Context, userID string) (*walletapp.ReconcileResponse, error)
}

// AdminHandler 管理サービスのgRPC実装
type AdminHandler struct {
	admin AdminOperations
}

// NewAdminHandler 新しいAdminHandlerを作成
func NewAdminHandler(admin AdminOperations) *AdminHandler {
	return &AdminHandler{admin: admin}
}

var _ AdminServiceServer = (*AdminHandler)(nil)

type grantMessage struct {
	UserID    string     `json:"user_id"`
	Amount    int64      `json:"amount"`
	Kind      string     `json:"kind"`
	ExpiresAt *time.Time `json:"expires_at"`
	Reason    string     `json:"reason"`
}

type reconcileMessage struct {
	UserID         string `json:"user_id"`
	Amount         int64  `json:"amount"`
	LedgerSum      int64  `json:"ledger_sum"`
	BatchRemainSum int64  `json:"batch_remain_sum"`
	Consistent     bool   `json:"consistent"`
}

// Grant クッキーを付与
func (h *AdminHandler) Grant(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req grantMessage
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if req.UserID == "" {
		return nil, status.Error(codes.InvalidArgument, "user_id is required")
	}

	resp, err := h.admin.Grant(ctx, &adminapp.GrantRequest{
		UserID:    req.UserID,
		Amount:    req.Amount,
		Kind:      req.Kind,
		ExpiresAt: req.ExpiresAt,
		Reason:    req.Reason,
		Operator:  interceptor.OperatorFromContext(ctx),
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(resp)
}

// Reconcile 台帳と残高とバッチを照合
func (h *AdminHandler) Reconcile(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if req.UserID == "" {
		return nil, status.Error(codes.InvalidArgument, "user_id is required")
	}

	res, err := h.admin.Reconcile(ctx, req.UserID)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(reconcileMessage{
		UserID:         res.UserID,
		Amount:         res.Amount,
		LedgerSum:      res.LedgerSum,
		BatchRemainSum: res.BatchRemainSum,
		Consistent:     res.Consistent,
	})
}

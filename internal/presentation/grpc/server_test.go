package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	adminapp "cookie-wallet/internal/application/admin"
	checkoutapp "cookie-wallet/internal/application/checkout"
	"cookie-wallet/internal/application/receipt"
	refundapp "cookie-wallet/internal/application/refund"
	walletapp "cookie-wallet/internal/application/wallet"
	"cookie-wallet/internal/infrastructure/config"
	otelinfra "cookie-wallet/internal/infrastructure/observability/otel"
	"cookie-wallet/internal/presentation/grpc/handler"
)

type stubServices struct{}

func (stubServices) GetWallet(ctx context.Context, userID string) (*walletapp.WalletResponse, error) {
	return &walletapp.WalletResponse{UserID: userID, Amount: 700, Available: 700}, nil
}

func (stubServices) Checkout(ctx context.Context, req *checkoutapp.CheckoutRequest) (*checkoutapp.CheckoutResponse, error) {
	return &checkoutapp.CheckoutResponse{Receipt: &receipt.Receipt{OrderID: "order-1", UserID: req.UserID, Status: "PENDING"}, Replayed: true}, nil
}

func (stubServices) Settle(ctx context.Context, userID, orderID string) (*receipt.Receipt, error) {
	return &receipt.Receipt{OrderID: orderID, UserID: userID, Status: "PAID"}, nil
}

func (stubServices) Refund(ctx context.Context, req *refundapp.RefundRequest) (*refundapp.RefundResponse, error) {
	return &refundapp.RefundResponse{RefundID: "refund-1", OrderID: req.OrderID, Amount: req.Amount}, nil
}

func (stubServices) Grant(ctx context.Context, req *adminapp.GrantRequest) (*adminapp.GrantResponse, error) {
	return &adminapp.GrantResponse{GrantID: "grant-1", UserID: req.UserID, Amount: req.Amount}, nil
}

func (stubServices) Reconcile(ctx context.Context, userID string) (*walletapp.ReconcileResponse, error) {
	return &walletapp.ReconcileResponse{UserID: userID, Consistent: true}, nil
}

const testSecret = "test-secret"

func setupTestServer(t *testing.T) (*Server, *grpc.ClientConn) {
	t.Helper()

	cfg := &config.Config{
		JWT:         config.JWTConfig{Secret: testSecret},
		AdminAPI:    config.AdminAPIConfig{Enabled: true, APIKey: "admin-key"},
		Environment: "development",
	}
	logger := otelinfra.NewLogger(noop.NewTracerProvider().Tracer("test"))
	metrics, err := otelinfra.NewMetrics("test")
	require.NoError(t, err)

	svc := stubServices{}
	listener := bufconn.Listen(1024 * 1024)
	server := NewServerWithListener(cfg, logger, metrics, Services{
		Wallet:   svc,
		Checkout: svc,
		Settle:   svc,
		Refund:   svc,
		Admin:    svc,
	}, listener)

	go func() {
		_ = server.Start()
	}()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Stop(ctx)
	})
	return server, conn
}

func bearer(t *testing.T, userID string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": userID}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + s
}

func TestServer_WalletService(t *testing.T) {
	_, conn := setupTestServer(t)

	tests := []struct {
		name     string
		method   string
		md       metadata.MD
		in       map[string]interface{}
		wantCode codes.Code
		wantKey  string
		wantVal  interface{}
	}{
		{
			name:     "正常系: 残高取得",
			method:   "GetWallet",
			md:       metadata.Pairs("authorization", bearer(t, "user123")),
			in:       map[string]interface{}{},
			wantCode: codes.OK,
			wantKey:  "amount",
			wantVal:  float64(700),
		},
		{
			name:     "正常系: 決済",
			method:   "Settle",
			md:       metadata.Pairs("authorization", bearer(t, "user123")),
			in:       map[string]interface{}{"order_id": "order-9"},
			wantCode: codes.OK,
			wantKey:  "status",
			wantVal:  "PAID",
		},
		{
			name:     "異常系: トークンなし",
			method:   "GetWallet",
			in:       map[string]interface{}{},
			wantCode: codes.Unauthenticated,
		},
		{
			name:     "異常系: 冪等性キーなしの返金",
			method:   "Refund",
			md:       metadata.Pairs("authorization", bearer(t, "user123")),
			in:       map[string]interface{}{"order_id": "order-9", "amount": 100},
			wantCode: codes.InvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if tt.md != nil {
				ctx = metadata.NewOutgoingContext(ctx, tt.md)
			}
			in, err := structpb.NewStruct(tt.in)
			require.NoError(t, err)
			out := new(structpb.Struct)

			err = conn.Invoke(ctx, "/"+handler.WalletServiceName+"/"+tt.method, in, out)

			assert.Equal(t, tt.wantCode, status.Code(err))
			if tt.wantKey != "" {
				assert.Equal(t, tt.wantVal, out.AsMap()[tt.wantKey])
			}
		})
	}
}

func TestServer_ReplayedHeader(t *testing.T) {
	_, conn := setupTestServer(t)

	ctx := metadata.NewOutgoingContext(context.Background(), metadata.Pairs(
		"authorization", bearer(t, "user123"),
		handler.MetadataIdempotencyKey, "key-1",
	))
	in, err := structpb.NewStruct(map[string]interface{}{"payment_method": "COOKIE"})
	require.NoError(t, err)
	out := new(structpb.Struct)
	var header metadata.MD

	err = conn.Invoke(ctx, "/"+handler.WalletServiceName+"/Checkout", in, out, grpc.Header(&header))

	require.NoError(t, err)
	assert.Equal(t, "order-1", out.AsMap()["order_id"])
	assert.Equal(t, []string{"true"}, header.Get(handler.MetadataReplayed))
}

func TestServer_AdminService(t *testing.T) {
	_, conn := setupTestServer(t)

	tests := []struct {
		name     string
		md       metadata.MD
		wantCode codes.Code
	}{
		{name: "正常系: APIキーで付与", md: metadata.Pairs("x-api-key", "admin-key"), wantCode: codes.OK},
		{name: "異常系: JWTだけでは呼べない", md: metadata.Pairs("authorization", bearer(t, "user123")), wantCode: codes.Unauthenticated},
		{name: "異常系: APIキーが違う", md: metadata.Pairs("x-api-key", "wrong"), wantCode: codes.Unauthenticated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := metadata.NewOutgoingContext(context.Background(), tt.md)
			in, err := structpb.NewStruct(map[string]interface{}{"user_id": "user123", "amount": 100, "kind": "BONUS"})
			require.NoError(t, err)
			out := new(structpb.Struct)

			err = conn.Invoke(ctx, "/"+handler.AdminServiceName+"/Grant", in, out)

			assert.Equal(t, tt.wantCode, status.Code(err))
			if tt.wantCode == codes.OK {
				assert.Equal(t, "grant-1", out.AsMap()["grant_id"])
			}
		})
	}
}

func TestServer_Stop(t *testing.T) {
	server, _ := setupTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, server.Stop(ctx))
}

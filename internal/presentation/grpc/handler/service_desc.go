package handler

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// サービス名
const (
	WalletServiceName = "cookiewallet.v1.WalletService"
	AdminServiceName  = "cookiewallet.v1.AdminService"
)

// WalletServiceServer ウォレットサービス。メッセージはgoogle.protobuf.Struct
type WalletServiceServer interface {
	GetWallet(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Checkout(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Settle(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Refund(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// AdminServiceServer 管理サービス
type AdminServiceServer interface {
	Grant(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Reconcile(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(srv interface{}, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

// unaryHandler unaryMethodをgrpc.MethodDescのハンドラーに変換
func unaryHandler(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv, ctx, req.(*structpb.Struct))
		})
	}
}

// WalletServiceDesc ウォレットサービスの定義
var WalletServiceDesc = grpc.ServiceDesc{
	ServiceName: WalletServiceName,
	HandlerType: (*WalletServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetWallet",
			Handler: unaryHandler("/"+WalletServiceName+"/GetWallet", func(srv interface{}, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
				return srv.(WalletServiceServer).GetWallet(ctx, req)
			}),
		},
		{
			MethodName: "Checkout",
			Handler: unaryHandler("/"+WalletServiceName+"/Checkout", func(srv interface{}, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
				return srv.(WalletServiceServer).Checkout(ctx, req)
			}),
		},
		{
			MethodName: "Settle",
			Handler: unaryHandler("/"+WalletServiceName+"/Settle", func(srv interface{}, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
				return srv.(WalletServiceServer).Settle(ctx, req)
			}),
		},
		{
			MethodName: "Refund",
			Handler: unaryHandler("/"+WalletServiceName+"/Refund", func(srv interface{}, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
				return srv.(WalletServiceServer).Refund(ctx, req)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cookiewallet/v1/wallet.proto",
}

// AdminServiceDesc 管理サービスの定義
var AdminServiceDesc = grpc.ServiceDesc{
	ServiceName: AdminServiceName,
	HandlerType: (*AdminServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Grant",
			Handler: unaryHandler("/"+AdminServiceName+"/Grant", func(srv interface{}, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
				return srv.(AdminServiceServer).Grant(ctx, req)
			}),
		},
		{
			MethodName: "Reconcile",
			Handler: unaryHandler("/"+AdminServiceName+"/Reconcile", func(srv interface{}, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
				return srv.(AdminServiceServer).Reconcile(ctx, req)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cookiewallet/v1/admin.proto",
}

// RegisterWalletServiceServer ウォレットサービスを登録
func RegisterWalletServiceServer(s grpc.ServiceRegistrar, srv WalletServiceServer) {
	s.RegisterService(&WalletServiceDesc, srv)
}

// RegisterAdminServiceServer 管理サービスを登録
func RegisterAdminServiceServer(s grpc.ServiceRegistrar, srv AdminServiceServer) {
	s.RegisterService(&AdminServiceDesc, srv)
}

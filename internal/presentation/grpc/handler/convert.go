package handler

import (
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"cookie-wallet/internal/domain/apperr"
)

// decode Structをvに詰め替える。数値はJSONを経由して整数に戻す
func decode(in *structpb.Struct, v interface{}) error {
	raw, err := json.Marshal(in.AsMap())
	if err != nil {
		return status.Error(codes.InvalidArgument, "invalid request")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	return nil
}

// encode vのJSON表現をStructにする
func encode(v interface{}) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	m := map[string]interface{}{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("failed to encode response: %v", err))
	}
	return out, nil
}

// CodeOf エラー種別に対応するgRPCコード
func CodeOf(kind apperr.Kind) codes.Code {
	switch kind {
	case apperr.KindValidation:
		return codes.InvalidArgument
	case apperr.KindConflict:
		return codes.Aborted
	case apperr.KindState:
		return codes.FailedPrecondition
	case apperr.KindNotFound:
		return codes.NotFound
	case apperr.KindUnauthorized:
		return codes.PermissionDenied
	case apperr.KindInfrastructure:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// toStatus アプリケーションエラーをgRPCステータスに変換
func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		return status.Error(codes.Internal, "internal error")
	}
	var e *apperr.Error
	if errors.As(err, &e) {
		return status.Errorf(CodeOf(kind), "%s: %s", e.Code(), err.Error())
	}
	return status.Error(CodeOf(kind), err.Error())
}

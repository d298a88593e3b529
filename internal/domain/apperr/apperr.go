package apperr

import "errors"

// Kind エラー種別
type Kind string

const (
	KindValidation     Kind = "validation"     // クライアント側で修正可能
	KindConflict       Kind = "conflict"       // 競合（同時実行・処理中）
	KindState          Kind = "state"          // サーバー側の不変条件違反
	KindNotFound       Kind = "not_found"      // 対象が存在しない
	KindUnauthorized   Kind = "unauthorized"   // 所有者以外の操作
	KindInfrastructure Kind = "infrastructure" // 外部依存の障害（呼び出し側でリトライ）
	KindInternal       Kind = "internal"       // 分類不能
)

// Error 種別付きのセンチネルエラー
type Error struct {
	kind Kind
	code string
	msg  string
}

// Error エラーメッセージを返す
func (e *Error) Error() string {
	return e.msg
}

// Kind エラー種別を返す
func (e *Error) Kind() Kind {
	return e.kind
}

// Code 機械可読なエラーコードを返す
func (e *Error) Code() string {
	return e.code
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{kind: kind, code: code, msg: msg}
}

// New 種別を指定してエラーを作成（キャッシュされたエラーの復元用）
func New(kind Kind, code, msg string) *Error { return newError(kind, code, msg) }

// Validation 検証エラーを作成
func Validation(code, msg string) *Error { return newError(KindValidation, code, msg) }

// Conflict 競合エラーを作成
func Conflict(code, msg string) *Error { return newError(KindConflict, code, msg) }

// State 状態エラーを作成
func State(code, msg string) *Error { return newError(KindState, code, msg) }

// NotFound 未検出エラーを作成
func NotFound(code, msg string) *Error { return newError(KindNotFound, code, msg) }

// Unauthorized 認可エラーを作成
func Unauthorized(code, msg string) *Error { return newError(KindUnauthorized, code, msg) }

// Infrastructure インフラエラーを作成
func Infrastructure(code, msg string) *Error { return newError(KindInfrastructure, code, msg) }

// KindOf エラーチェーンから種別を取り出す。種別を持たない場合はKindInternal
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindInternal
}

// CodeOf エラーチェーンからコードを取り出す
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.code
	}
	return "internal_error"
}

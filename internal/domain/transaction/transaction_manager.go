package transaction

import (
	"context"
)

// TransactionManager トランザクション管理インターフェース
type TransactionManager interface {
	// WithTransaction トランザクション内で関数を実行する。
	// fnに渡されるコンテキストにトランザクションが載り、リポジトリはそれを使う
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

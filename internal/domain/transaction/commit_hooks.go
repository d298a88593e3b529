package transaction

import (
	"context"
	"sync"
)

type commitHooksKey struct{}

// CommitHooks コミット後に実行する処理の集まり
type CommitHooks struct {
	mu  sync.Mutex
	fns []func()
}

// WithCommitHooks 最も外側のトランザクション開始時にフックの登録先をコンテキストへ載せる
func WithCommitHooks(ctx context.Context) (context.Context, *CommitHooks) {
	h := &CommitHooks{}
	return context.WithValue(ctx, commitHooksKey{}, h), h
}

// Run 登録順にフックを実行する。コミット成功後にだけ呼ぶ
func (h *CommitHooks) Run() {
	h.mu.Lock()
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// AfterCommit 外側のトランザクションがコミットされた後にfnを実行する。
// トランザクション外で呼ばれた場合はその場で実行し、ロールバックされた場合は実行しない
func AfterCommit(ctx context.Context, fn func()) {
	h, ok := ctx.Value(commitHooksKey{}).(*CommitHooks)
	if !ok || h == nil {
		fn()
		return
	}
	h.mu.Lock()
	h.fns = append(h.fns, fn)
	h.mu.Unlock()
}

package job

import (
	"context"
	"time"
)

// loop intervalごと、またはtriggerを受けるたびにtickを呼ぶ。ctxの終了かstopChのクローズで抜ける
func loop(ctx context.Context, stopCh <-chan struct{}, interval time.Duration, trigger <-chan struct{}, tick func(ctx context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			tick(ctx)
		case <-trigger:
			tick(ctx)
		}
	}
}

package util

import (
	"context"
	"fmt"
	"time"
)

// MaxBackoff 单次等待的上限。
const MaxBackoff = 30 * time.Second

// Retry 最多执行 fn attempts 次，失败后按指数退避等待，最后一次失败后不再等待。
func Retry(ctx context.Context, attempts int, backoff time.Duration, fn func() error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 1; ; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err = fn(); err == nil {
			return nil
		}
		if i >= attempts {
			return fmt.Errorf("重试 %d 次后仍失败: %w", attempts, err)
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff = min(backoff*2, MaxBackoff)
	}
}

package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"vminventory/internal/metrics"
	"vminventory/internal/store"
)

// Guard 用持久化层的 advisory lock 保证全局同一时刻只有一次同步在跑。
type Guard struct {
	Lock   store.DistributedLock
	Key    int64
	Logger *zap.Logger
}

// Run 抢锁成功后执行 fn；锁被占用时 ran=false 且不返回错误。
func (g *Guard) Run(ctx context.Context, fn func(context.Context) error) (bool, error) {
	logger := g.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ok, err := g.Lock.TryAcquire(ctx, g.Key)
	if err != nil {
		return false, fmt.Errorf("获取同步锁失败: %w", err)
	}
	if !ok {
		metrics.LockContention.Inc()
		logger.Info("sync already running elsewhere, skip", zap.Int64("lock_key", g.Key))
		return false, nil
	}
	defer func() {
		if err := g.Lock.Release(context.WithoutCancel(ctx), g.Key); err != nil {
			logger.Error("release sync lock failed", zap.Int64("lock_key", g.Key), zap.Error(err))
		}
	}()
	return true, fn(ctx)
}

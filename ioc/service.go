package ioc

import (
	"context"

	"go.uber.org/zap"

	"vminventory/internal/app"
	"vminventory/internal/graph"
	"vminventory/internal/source"
	"vminventory/internal/store"
)

// InitAppService 构建 VM 库存同步服务，cleanup 等待后台同步结束并释放连接。
func InitAppService(cfg app.Config, st store.Store, lock store.DistributedLock, fetcher source.Fetcher, neo *graph.Client, logger *zap.Logger) (*app.Service, func()) {
	svc := app.NewService(cfg, st, lock, fetcher, neo, logger)
	cleanup := func() {
		if err := svc.Close(context.Background()); err != nil {
			logger.Warn("close app service failed", zap.Error(err))
		}
	}
	return svc, cleanup
}

package ioc

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"vminventory/internal/app"
	"vminventory/internal/store"
	"vminventory/internal/store/memory"
	"vminventory/internal/store/postgres"
)

// Persistence 同时提供库存存储与全局同步锁。
type Persistence interface {
	store.Store
	store.DistributedLock
}

// InitPersistence 按 store.driver 构建存储。
func InitPersistence(ctx context.Context, cfg app.Config, logger *zap.Logger) (Persistence, error) {
	switch cfg.Store.Driver {
	case app.StoreDriverPostgres:
		pg, err := postgres.Open(ctx, postgres.Options{
			DSN:             cfg.Store.DSN,
			MaxOpenConns:    cfg.Store.MaxOpenConns,
			ConnectAttempts: cfg.Store.ConnectRetry.Attempts,
			ConnectBackoff:  time.Duration(cfg.Store.ConnectRetry.BackoffSeconds) * time.Second,
		}, logger)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case app.StoreDriverMemory, "":
		logger.Warn("using in-memory store, inventory is lost on restart")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("不支持的 store.driver %q", cfg.Store.Driver)
	}
}

// InitStore 暴露库存存储。
func InitStore(p Persistence) store.Store {
	return p
}

// InitLock 暴露全局同步锁。
func InitLock(p Persistence) store.DistributedLock {
	return p
}

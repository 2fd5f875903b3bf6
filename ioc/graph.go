package ioc

import (
	"context"

	"go.uber.org/zap"

	"vminventory/internal/app"
	"vminventory/internal/graph"
)

// InitGraphClient 构建图数据库客户端，未启用时返回 nil。
func InitGraphClient(ctx context.Context, cfg app.Config, logger *zap.Logger) (*graph.Client, error) {
	if !cfg.Neo4j.Enabled {
		logger.Info("graph projection disabled")
		return nil, nil
	}
	return graph.NewClient(ctx, graph.Config{
		URI:                  cfg.Neo4j.URI,
		Username:             cfg.Neo4j.Username,
		Password:             cfg.Neo4j.Password,
		Database:             cfg.Neo4j.Database,
		MaxConnectionPool:    cfg.Neo4j.MaxConnectionPool,
		ConnectionTimeoutSec: cfg.Neo4j.ConnectTimeoutSecond,
	})
}

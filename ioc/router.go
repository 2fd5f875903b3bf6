package ioc

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vminventory/internal/app"
	"vminventory/internal/metrics"
	"vminventory/internal/router"
)

// InitInventoryHandler 构建库存 HTTP 处理器。
func InitInventoryHandler(svc *app.Service, logger *zap.Logger) *router.InventoryHandler {
	return router.NewInventoryHandler(svc, logger)
}

// InitGinEngine 构建 gin 引擎。
func InitGinEngine(cfg app.Config, handler *router.InventoryHandler) *gin.Engine {
	if cfg.Metrics.Enabled {
		metrics.RegisterDefault()
	}
	return router.NewEngine(handler, cfg.Metrics)
}

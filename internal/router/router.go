package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vminventory/internal/app"
)

// NewEngine 构建 gin 引擎并注册所有模块路由。
func NewEngine(inventory *InventoryHandler, metricsCfg app.Metrics) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	api := engine.Group("/api/v1")
	inventory.RegisterRoutes(api)

	if metricsCfg.Enabled {
		engine.GET(metricsCfg.Path, gin.WrapH(promhttp.Handler()))
	}
	engine.GET("/healthz", func(c *gin.Context) { c.String(200, "ok") })
	return engine
}

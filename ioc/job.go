package ioc

import (
	"go.uber.org/zap"

	"vminventory/internal/app"
	"vminventory/internal/job"
)

// InitScheduler 构建定时同步调度器。
func InitScheduler(cfg app.Config, svc *app.Service, logger *zap.Logger) *job.Scheduler {
	return job.NewScheduler(cfg, svc.Sync, logger)
}

// InitHeartbeat 构建每小时心跳任务。
func InitHeartbeat(svc *app.Service, logger *zap.Logger) *job.Heartbeat {
	return job.NewHeartbeat(svc.Status, logger)
}

package job

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"vminventory/internal/app"
)

// Scheduler 按固定周期（或 cron 表达式）触发同步，上一轮未结束时跳过本轮。
type Scheduler struct {
	spec     string
	logger   *zap.Logger
	cron     *cron.Cron
	syncFunc func(context.Context) error
	parent   context.Context
}

// NewScheduler 根据配置构建调度器，sync.cron 为空时使用 @every interval。
func NewScheduler(cfg app.Config, syncFunc func(context.Context) error, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{spec: Spec(cfg.Sync), logger: logger, syncFunc: syncFunc}
}

// Spec 返回调度表达式。
func Spec(s app.Sync) string {
	if spec := strings.TrimSpace(s.Cron); spec != "" {
		return spec
	}
	return fmt.Sprintf("@every %s", s.Interval())
}

// Start 启动调度器，返回用于停止任务的函数。
func (s *Scheduler) Start(parent context.Context) context.CancelFunc {
	if s == nil {
		return func() {}
	}
	s.parent = parent
	c := cron.New(cron.WithChain(
		cron.Recover(newCronLogger(s.logger)),
		cron.SkipIfStillRunning(newCronLogger(s.logger)),
	))
	id, err := c.AddFunc(s.spec, s.runOnce)
	if err != nil {
		s.logger.Error("failed to register cron job", zap.String("spec", s.spec), zap.Error(err))
		return func() {}
	}
	s.cron = c
	c.Start()
	s.logger.Info("job scheduler started", zap.String("spec", s.spec), zap.Time("next", c.Entry(id).Next))

	var once sync.Once
	stop := func() {
		once.Do(func() {
			ctx := s.cron.Stop()
			<-ctx.Done()
			s.logger.Info("job scheduler stopped")
		})
	}

	go func() {
		<-parent.Done()
		stop()
	}()

	return stop
}

func (s *Scheduler) runOnce() {
	if s.syncFunc == nil {
		s.logger.Warn("sync function not configured")
		return
	}
	runCtx := context.Background()
	if s.parent != nil {
		if s.parent.Err() != nil {
			s.logger.Info("scheduler context cancelled, skip sync")
			return
		}
		runCtx = s.parent
	}
	start := time.Now()
	err := s.syncFunc(runCtx)
	elapsed := time.Since(start)
	if err != nil {
		s.logger.Error("scheduled sync failed", zap.Duration("duration", elapsed), zap.Error(err))
		return
	}
	s.logger.Info("scheduled sync completed", zap.Duration("duration", elapsed))
}

package job

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"vminventory/internal/app"
)

// Heartbeat 每小时输出最近一次同步的概况，便于从日志判断同步是否停摆。
type Heartbeat struct {
	status func() app.Status
	logger *zap.Logger
	cron   *cron.Cron
}

func NewHeartbeat(status func() app.Status, logger *zap.Logger) *Heartbeat {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Heartbeat{status: status, logger: logger}
}

// Start 启动按小时执行的心跳任务，返回停止函数。
func (h *Heartbeat) Start(parent context.Context) context.CancelFunc {
	if h == nil || h.status == nil {
		return func() {}
	}
	c := cron.New()
	if _, err := c.AddFunc("@hourly", h.beat); err != nil {
		h.logger.Error("failed to register heartbeat job", zap.Error(err))
		return func() {}
	}
	h.cron = c
	c.Start()

	stop := func() {
		ctx := h.cron.Stop()
		<-ctx.Done()
	}
	go func() {
		<-parent.Done()
		stop()
	}()
	return stop
}

func (h *Heartbeat) beat() {
	st := h.status()
	fields := []zap.Field{zap.Bool("running", st.Running)}
	if st.LastRun != nil {
		fields = append(fields,
			zap.String("last_run_id", st.LastRun.RunID),
			zap.Time("last_finished_at", st.LastRun.FinishedAt),
			zap.Int("last_failed_profiles", st.LastRun.Failed()))
	}
	if st.LastError != "" {
		fields = append(fields, zap.String("last_error", st.LastError))
	}
	h.logger.Info("inventory heartbeat", fields...)
}

package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vminventory/internal/app"
	"vminventory/internal/job"
)

const shutdownTimeout = 15 * time.Second

// HTTPServer 封装 HTTP 服务运行所需的依赖。
type HTTPServer struct {
	Engine    *gin.Engine
	Logger    *zap.Logger
	Config    app.Config
	Service   *app.Service
	Job       *job.Scheduler
	Heartbeat *job.Heartbeat
}

// NewHTTPServer 构建 HTTPServer。
func NewHTTPServer(engine *gin.Engine, logger *zap.Logger, cfg app.Config, svc *app.Service, scheduler *job.Scheduler, heartbeat *job.Heartbeat) *HTTPServer {
	return &HTTPServer{
		Engine:    engine,
		Logger:    logger,
		Config:    cfg,
		Service:   svc,
		Job:       scheduler,
		Heartbeat: heartbeat,
	}
}

// Run 初始化存储后启动 HTTP 服务及后台任务，ctx 取消时优雅退出。
func (s *HTTPServer) Run(ctx context.Context) error {
	if err := s.Service.Init(ctx); err != nil {
		return err
	}

	if s.Job != nil {
		cancelJob := s.Job.Start(ctx)
		defer cancelJob()
	}
	if s.Heartbeat != nil {
		cancelHeartbeat := s.Heartbeat.Start(ctx)
		defer cancelHeartbeat()
	}

	if s.Config.Sync.InitialSync {
		s.Logger.Info("initial sync triggered")
		s.Service.TriggerSync()
	} else {
		s.Logger.Info("initial sync skipped by configuration")
	}

	srv := &http.Server{Addr: s.Config.HTTP.Listen, Handler: s.Engine}
	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("http server starting", zap.String("listen", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	s.Logger.Info("http server shutting down")
	return srv.Shutdown(shutdownCtx)
}

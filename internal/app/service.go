package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"vminventory/internal/domain"
	"vminventory/internal/graph"
	"vminventory/internal/loader"
	"vminventory/internal/source"
	"vminventory/internal/store"
)

// ErrGraphDisabled 未启用图投影时查询拓扑返回。
var ErrGraphDisabled = errors.New("图投影未启用")

// Status 描述最近一次同步与当前是否有同步在执行。
type Status struct {
	Running   bool        `json:"running"`
	LastRun   *RunSummary `json:"last_run,omitempty"`
	LastError string      `json:"last_error,omitempty"`
}

// Service 负责装配各个 Flow 并提供统一入口。
type Service struct {
	cfg      Config
	store    store.Store
	fetcher  source.Fetcher
	neo      *graph.Client
	topology *graph.Projector
	guard    *Guard
	InitFlow *InitFlow
	SyncFlow *SyncFlow
	logger   *zap.Logger

	inflight atomic.Int32
	wg       sync.WaitGroup
	mu       sync.RWMutex
	lastRun  *RunSummary
	lastErr  string
}

// NewService 根据配置装配 Service，neo 为 nil 时不做图投影。
func NewService(cfg Config, st store.Store, lock store.DistributedLock, fetcher source.Fetcher, neo *graph.Client, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	seeds := make([]domain.Profile, 0, len(cfg.Profiles))
	for _, p := range cfg.Profiles {
		seeds = append(seeds, p.Domain())
	}
	svc := &Service{
		cfg:     cfg,
		store:   st,
		fetcher: fetcher,
		neo:     neo,
		guard:   &Guard{Lock: lock, Key: cfg.Sync.LockKey, Logger: logger},
		logger:  logger,
	}
	initFlow := &InitFlow{Profiles: st, Seeds: seeds, Logger: logger}
	if m, ok := st.(Migrator); ok && cfg.Store.AutoMigrate {
		initFlow.Migrator = m
	}
	flow := &SyncFlow{
		Profiles: st,
		Fetcher:  fetcher,
		Upserter: loader.NewVMUpserter(st, logger),
		Logger:   logger,
	}
	if neo != nil {
		svc.topology = graph.NewProjector(neo, cfg.Sync.BatchSize, logger)
		initFlow.Schema = neo
		flow.Graph = svc.topology
	}
	svc.InitFlow = initFlow
	svc.SyncFlow = flow
	return svc
}

// Init 建表、建图 schema 并写入预置连接配置。
func (s *Service) Init(ctx context.Context) error {
	if s.InitFlow == nil {
		return fmt.Errorf("未初始化 init flow")
	}
	return s.InitFlow.Run(ctx)
}

// Migrate 不受 store.auto_migrate 影响，直接执行建表。存储无需建表时为空操作。
func (s *Service) Migrate(ctx context.Context) error {
	m, ok := s.store.(Migrator)
	if !ok {
		return nil
	}
	if err := m.Migrate(ctx); err != nil {
		return fmt.Errorf("初始化存储失败: %w", err)
	}
	return nil
}

// Sync 在全局锁保护下执行一次同步，锁被占用时直接返回 nil。
func (s *Service) Sync(ctx context.Context) error {
	if s.SyncFlow == nil {
		return fmt.Errorf("未初始化 sync flow")
	}
	s.inflight.Add(1)
	defer s.inflight.Add(-1)

	var summary RunSummary
	ran, err := s.guard.Run(ctx, func(ctx context.Context) error {
		var runErr error
		summary, runErr = s.SyncFlow.Run(ctx)
		return runErr
	})
	if !ran && err == nil {
		return nil
	}
	s.mu.Lock()
	if ran {
		s.lastRun = &summary
	}
	s.lastErr = ""
	if err != nil {
		s.lastErr = err.Error()
	}
	s.mu.Unlock()
	return err
}

// TriggerSync 在后台发起一次同步并立即返回。
func (s *Service) TriggerSync() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Sync(context.Background()); err != nil {
			s.logger.Error("manual sync failed", zap.Error(err))
		}
	}()
}

// Status 返回最近一次同步结果。
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{Running: s.inflight.Load() > 0, LastError: s.lastErr}
	if s.lastRun != nil {
		run := *s.lastRun
		st.LastRun = &run
	}
	return st
}

// Summary 按电源状态汇总 VM。
func (s *Service) Summary(ctx context.Context) (domain.Summary, error) {
	return s.store.Summary(ctx)
}

// GetVM 读取 VM 详情，不存在时返回 ErrNotFound。
func (s *Service) GetVM(ctx context.Context, id string) (*domain.VM, error) {
	vm, err := s.store.GetVM(ctx, id)
	if err != nil {
		return nil, err
	}
	if vm == nil {
		return nil, fmt.Errorf("vm %s: %w", id, domain.ErrNotFound)
	}
	return vm, nil
}

// Topology 查询 VM 在图中的邻居。
func (s *Service) Topology(ctx context.Context, id string) ([]graph.Neighbor, error) {
	if s.topology == nil {
		return nil, ErrGraphDisabled
	}
	return s.topology.Topology(ctx, id)
}

// Profiles 列出全部连接配置。
func (s *Service) Profiles(ctx context.Context) ([]domain.Profile, error) {
	return s.store.ListProfiles(ctx)
}

// SetProfileEnabled 启用或停用连接配置。
func (s *Service) SetProfileEnabled(ctx context.Context, id int64, enabled bool) error {
	return s.store.SetProfileEnabled(ctx, id, enabled)
}

// TestProfile 对指定连接配置做一次连通性测试。
func (s *Service) TestProfile(ctx context.Context, id int64) error {
	p, err := s.store.GetProfile(ctx, id)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("profile %d: %w", id, domain.ErrNotFound)
	}
	return s.fetcher.TestConnection(ctx, *p)
}

// Close 等待后台同步结束后释放资源。
func (s *Service) Close(ctx context.Context) error {
	s.wg.Wait()
	_ = s.logger.Sync()
	var errs []error
	if s.neo != nil {
		errs = append(errs, s.neo.Close(ctx))
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	return errors.Join(errs...)
}

package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vminventory/internal/domain"
	"vminventory/internal/loader"
	"vminventory/internal/metrics"
	"vminventory/internal/source"
	"vminventory/internal/store"
)

// Upserter 把一批快照落库。
type Upserter interface {
	Upsert(ctx context.Context, snapshots []domain.VMSnapshot) (loader.Result, error)
}

// Projector 把快照投影到图数据库，可选。
type Projector interface {
	Project(ctx context.Context, profile domain.Profile, runID string, snaps []domain.VMSnapshot) error
}

// ProfileResult 单个连接配置的同步结果。
type ProfileResult struct {
	Profile string        `json:"profile"`
	Kind    string        `json:"kind"`
	Fetched int           `json:"fetched"`
	Result  loader.Result `json:"result"`
	Error   string        `json:"error,omitempty"`
}

// RunSummary 一次完整同步的结果。
type RunSummary struct {
	RunID      string          `json:"run_id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Profiles   []ProfileResult `json:"profiles"`
}

// Failed 返回失败的连接配置数。
func (s RunSummary) Failed() int {
	n := 0
	for _, p := range s.Profiles {
		if p.Error != "" {
			n++
		}
	}
	return n
}

// SyncFlow 逐个连接配置执行拉取 -> 落库 -> 图投影，单个配置失败不影响其它配置。
type SyncFlow struct {
	Profiles store.ProfileStore
	Fetcher  source.Fetcher
	Upserter Upserter
	Graph    Projector
	Logger   *zap.Logger

	NewRunID func() string
	Now      func() time.Time
}

// Run 执行一次同步。只有读取连接配置失败会返回错误。
func (f *SyncFlow) Run(ctx context.Context) (RunSummary, error) {
	if f == nil || f.Profiles == nil || f.Fetcher == nil || f.Upserter == nil {
		return RunSummary{}, fmt.Errorf("sync flow 依赖未注入完整")
	}
	logger := f.logger()
	summary := RunSummary{RunID: f.runID(), StartedAt: f.now()}
	defer func() {
		metrics.SyncDuration.Observe(f.now().Sub(summary.StartedAt).Seconds())
	}()

	profiles, err := f.Profiles.ListEnabledProfiles(ctx)
	if err != nil {
		summary.FinishedAt = f.now()
		return summary, fmt.Errorf("读取连接配置失败: %w", err)
	}
	if len(profiles) == 0 {
		logger.Info("no enabled connection profiles, nothing to sync", zap.String("run_id", summary.RunID))
		summary.FinishedAt = f.now()
		return summary, nil
	}

	for _, p := range profiles {
		res := f.syncProfile(ctx, summary.RunID, p)
		summary.Profiles = append(summary.Profiles, res)
	}
	summary.FinishedAt = f.now()
	logger.Info("sync finished",
		zap.String("run_id", summary.RunID),
		zap.Int("profiles", len(summary.Profiles)),
		zap.Int("failed", summary.Failed()),
		zap.Duration("duration", summary.FinishedAt.Sub(summary.StartedAt)))
	return summary, nil
}

func (f *SyncFlow) syncProfile(ctx context.Context, runID string, p domain.Profile) (res ProfileResult) {
	logger := f.logger().With(zap.String("profile", p.Name), zap.String("run_id", runID))
	res = ProfileResult{Profile: p.Name, Kind: p.Kind}
	defer func() {
		if r := recover(); r != nil {
			res.Error = fmt.Sprintf("panic: %v", r)
		}
		if res.Error != "" {
			metrics.ProfileErrors.WithLabelValues(p.Name).Inc()
			logger.Error("profile sync failed", zap.String("error", res.Error))
		}
	}()

	snaps, err := f.Fetcher.Fetch(ctx, p)
	if err != nil {
		res.Error = describeErr("拉取", err)
		return res
	}
	res.Fetched = len(snaps)

	result, err := f.Upserter.Upsert(ctx, snaps)
	if err != nil {
		res.Error = describeErr("落库", err)
		return res
	}
	res.Result = result
	metrics.ObserveResult(result.Created, result.Changed-result.Created, result.Unchanged, result.Skipped)
	logger.Info("profile synced",
		zap.Int("fetched", res.Fetched),
		zap.Int("created", result.Created),
		zap.Int("changed", result.Changed),
		zap.Int("skipped", result.Skipped))

	if f.Graph != nil {
		if err := f.Graph.Project(ctx, p, runID, snaps); err != nil {
			metrics.GraphErrors.Inc()
			logger.Warn("graph projection failed", zap.Error(err))
		}
	}
	return res
}

func describeErr(stage string, err error) string {
	var connErr *domain.ConnectionError
	var persistErr *domain.PersistenceError
	switch {
	case errors.As(err, &connErr):
		return fmt.Sprintf("%s失败(连接): %v", stage, err)
	case errors.As(err, &persistErr):
		return fmt.Sprintf("%s失败(持久化): %v", stage, err)
	default:
		return fmt.Sprintf("%s失败: %v", stage, err)
	}
}

func (f *SyncFlow) logger() *zap.Logger {
	if f.Logger == nil {
		return zap.NewNop()
	}
	return f.Logger
}

func (f *SyncFlow) runID() string {
	if f.NewRunID != nil {
		return f.NewRunID()
	}
	return uuid.NewString()
}

func (f *SyncFlow) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now().UTC()
}

package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"vminventory/internal/domain"
	"vminventory/internal/graph"
	"vminventory/internal/store"
)

// Migrator 由需要建表的存储实现。
type Migrator interface {
	Migrate(ctx context.Context) error
}

// InitFlow 负责启动初始化：建表 -> 建图 schema -> 写入预置连接配置。
// 预置配置只在库中没有同名记录时插入，已有记录以库为准。
type InitFlow struct {
	Migrator Migrator
	Schema   graph.SchemaRunner
	Profiles store.ProfileStore
	Seeds    []domain.Profile
	Logger   *zap.Logger
}

// Run 执行初始化流程，可重复执行。
func (f *InitFlow) Run(ctx context.Context) error {
	if f.Profiles == nil {
		return fmt.Errorf("初始化依赖未注入完整")
	}
	if f.Logger == nil {
		f.Logger = zap.NewNop()
	}
	if f.Migrator != nil {
		if err := f.Migrator.Migrate(ctx); err != nil {
			return fmt.Errorf("初始化存储失败: %w", err)
		}
	}
	if f.Schema != nil {
		if err := graph.EnsureSchema(ctx, f.Schema); err != nil {
			return fmt.Errorf("初始化图 schema 失败: %w", err)
		}
	}
	for _, p := range f.Seeds {
		saved, err := f.Profiles.SeedProfile(ctx, p)
		if err != nil {
			return fmt.Errorf("写入连接配置 %s 失败: %w", p.Name, err)
		}
		f.Logger.Info("connection profile seeded",
			zap.Int64("id", saved.ID),
			zap.String("profile", saved.Name),
			zap.String("kind", saved.Kind),
			zap.Bool("enabled", saved.Enabled))
	}
	f.Logger.Info("初始化完成", zap.Int("profiles", len(f.Seeds)))
	return nil
}

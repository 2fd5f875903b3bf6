// Package source 从虚拟化管理端点拉取 VM 快照。
package source

import (
	"context"
	"fmt"

	"vminventory/internal/domain"
)

// Fetcher 抽象 VM 库存数据源。
type Fetcher interface {
	Fetch(ctx context.Context, p domain.Profile) ([]domain.VMSnapshot, error)
	TestConnection(ctx context.Context, p domain.Profile) error
}

// StaticFetcher 用于测试或最小实现，按配置名称返回预设快照。
type StaticFetcher struct {
	Snapshots map[string][]domain.VMSnapshot
	Errors    map[string]error
}

// Fetch 返回预设快照。
func (f *StaticFetcher) Fetch(_ context.Context, p domain.Profile) ([]domain.VMSnapshot, error) {
	if err := f.Errors[p.Name]; err != nil {
		return nil, err
	}
	return f.Snapshots[p.Name], nil
}

func (f *StaticFetcher) TestConnection(_ context.Context, p domain.Profile) error {
	return f.Errors[p.Name]
}

// Registry 按 Profile.Kind 分发到具体 Fetcher，Kind 为空时按 vcenter 处理。
type Registry map[string]Fetcher

func (r Registry) lookup(p domain.Profile) (Fetcher, error) {
	kind := p.Kind
	if kind == "" {
		kind = domain.ProfileKindVCenter
	}
	f, ok := r[kind]
	if !ok {
		return nil, fmt.Errorf("%w: 未知的连接类型 %q", domain.ErrValidation, kind)
	}
	return f, nil
}

func (r Registry) Fetch(ctx context.Context, p domain.Profile) ([]domain.VMSnapshot, error) {
	f, err := r.lookup(p)
	if err != nil {
		return nil, err
	}
	return f.Fetch(ctx, p)
}

func (r Registry) TestConnection(ctx context.Context, p domain.Profile) error {
	f, err := r.lookup(p)
	if err != nil {
		return err
	}
	return f.TestConnection(ctx, p)
}

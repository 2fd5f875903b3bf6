// Package store 定义持久化层的能力边界，具体实现见 memory 与 postgres 子包。
package store

import (
	"context"

	"vminventory/internal/domain"
)

// DefaultLockKey 全局同步互斥使用的固定 advisory lock key。
const DefaultLockKey int64 = 0x766d73796e63 // "vmsync"

// Store 是 VM 库存的持久化入口。
type Store interface {
	ProfileStore
	MetadataStore

	// Begin 开启一个工作单元，调用方必须 Commit 或 Rollback。
	Begin(ctx context.Context) (Tx, error)
	// GetVM 读取 VM 及其磁盘、网卡、负责人和标签。
	GetVM(ctx context.Context, id string) (*domain.VM, error)
	// Summary 按电源状态汇总。
	Summary(ctx context.Context) (domain.Summary, error)
	Close() error
}

// Tx 是同步流程使用的事务视图。查询不到记录时返回 nil, nil。
type Tx interface {
	// LockVM 以排他方式读取 VM（select for update 语义）。
	LockVM(ctx context.Context, id string) (*domain.VM, error)
	GetVM(ctx context.Context, id string) (*domain.VM, error)
	FindVMByName(ctx context.Context, name string) (*domain.VM, error)
	// InsertVM 插入新 VM，ID 已存在时返回 false。
	InsertVM(ctx context.Context, vm *domain.VM) (bool, error)
	UpdateVM(ctx context.Context, vm *domain.VM) error
	// ReplaceDisks 整体替换磁盘集合，返回带新代理主键的记录。
	ReplaceDisks(ctx context.Context, vmID string, disks []domain.Disk) ([]domain.Disk, error)
	// ReplaceNICs 整体替换网卡集合，返回带新代理主键的记录。
	ReplaceNICs(ctx context.Context, vmID string, nics []domain.NIC) ([]domain.NIC, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// ProfileStore 管理连接配置。
type ProfileStore interface {
	ListEnabledProfiles(ctx context.Context) ([]domain.Profile, error)
	ListProfiles(ctx context.Context) ([]domain.Profile, error)
	GetProfile(ctx context.Context, id int64) (*domain.Profile, error)
	// SaveProfile 按名称插入或更新，返回带 ID 的配置。
	SaveProfile(ctx context.Context, p domain.Profile) (domain.Profile, error)
	// SeedProfile 仅在同名配置不存在时插入，已存在时原样返回库中记录，
	// 不覆盖运维通过接口做的修改（启用状态、密码等）。
	SeedProfile(ctx context.Context, p domain.Profile) (domain.Profile, error)
	SetProfileEnabled(ctx context.Context, id int64, enabled bool) error
}

// MetadataStore 管理用户维护的负责人与标签，同步流程不会调用。
type MetadataStore interface {
	CreateOwner(ctx context.Context, o domain.Owner) (domain.Owner, error)
	CreateTag(ctx context.Context, t domain.Tag) (domain.Tag, error)
	AssignOwners(ctx context.Context, vmID string, ownerIDs []int64) error
	AssignTags(ctx context.Context, vmID string, tagIDs []int64) error
}

// DistributedLock 是由持久化层持有的 advisory lock，进程崩溃后自动释放。
type DistributedLock interface {
	TryAcquire(ctx context.Context, key int64) (bool, error)
	Release(ctx context.Context, key int64) error
}

package loader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"vminventory/internal/domain"
	"vminventory/internal/normalize"
	"vminventory/internal/store"
)

// Result 汇总一次 upsert 的计数。Changed 包含新建的记录。
type Result struct {
	Processed  int `json:"processed"`
	Created    int `json:"created"`
	Changed    int `json:"changed"`
	Unchanged  int `json:"unchanged"`
	Skipped    int `json:"skipped"`
	Duplicates int `json:"duplicates"`
}

type outcome int

const (
	outcomeUnchanged outcome = iota
	outcomeCreated
	outcomeUpdated
	outcomeDuplicate
)

// VMUpserter 把快照与已持久化记录对账：新建、原地更新或保持不变。
// 负责人与标签不在对账范围内。
type VMUpserter struct {
	store  store.Store
	logger *zap.Logger
}

// NewVMUpserter 创建 VM upsert 器。
func NewVMUpserter(s store.Store, logger *zap.Logger) *VMUpserter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VMUpserter{store: s, logger: logger}
}

// Upsert 在单个事务中处理整批快照，结束时统一提交；提交失败整体回滚并返回 PersistenceError。
func (u *VMUpserter) Upsert(ctx context.Context, snapshots []domain.VMSnapshot) (Result, error) {
	tx, err := u.store.Begin(ctx)
	if err != nil {
		return Result{}, &domain.PersistenceError{Op: "开启事务", Err: err}
	}
	finished := false
	defer func() {
		if !finished {
			if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
				u.logger.Warn("rollback failed", zap.Error(rbErr))
			}
		}
	}()

	var res Result
	seen := make(map[string]struct{}, len(snapshots))
	for i := range snapshots {
		snap := &snapshots[i]
		out, err := u.upsertOne(ctx, tx, snap, seen)
		if err != nil {
			if errors.Is(err, domain.ErrValidation) {
				u.logger.Warn("skip invalid snapshot", zap.String("name", snap.Name), zap.Error(err))
				res.Skipped++
				continue
			}
			return Result{}, &domain.PersistenceError{Op: fmt.Sprintf("写入 VM %s", describe(snap)), Err: err}
		}
		switch out {
		case outcomeDuplicate:
			res.Duplicates++
			continue
		case outcomeCreated:
			res.Created++
			res.Changed++
		case outcomeUpdated:
			res.Changed++
		default:
			res.Unchanged++
		}
		res.Processed++
	}

	if err := tx.Commit(ctx); err != nil {
		u.logger.Error("commit failed during VM upsert", zap.Error(err))
		return Result{}, &domain.PersistenceError{Op: "提交事务", Err: err}
	}
	finished = true

	u.logger.Info("VM upsert 完成",
		zap.Int("processed", res.Processed),
		zap.Int("created", res.Created),
		zap.Int("changed", res.Changed),
		zap.Int("skipped", res.Skipped),
		zap.Int("duplicates", res.Duplicates))
	return res, nil
}

func (u *VMUpserter) upsertOne(ctx context.Context, tx store.Tx, snap *domain.VMSnapshot, seen map[string]struct{}) (outcome, error) {
	id := strings.TrimSpace(snap.ID)
	name := strings.TrimSpace(snap.Name)

	if id != "" {
		if _, dup := seen[id]; dup {
			u.logger.Debug("duplicate VM in payload skipped", zap.String("name", name), zap.String("id", id))
			return outcomeDuplicate, nil
		}
		seen[id] = struct{}{}
	}
	if id == "" && name == "" {
		return outcomeUnchanged, fmt.Errorf("%w: 缺少 vm id 和名称", domain.ErrValidation)
	}

	if id == "" {
		existing, err := tx.FindVMByName(ctx, name)
		if err != nil {
			return outcomeUnchanged, fmt.Errorf("按名称查找 VM 失败: %w", err)
		}
		if existing == nil {
			// 不凭空生成 ID，避免与真实 ID 冲突
			return outcomeUnchanged, fmt.Errorf("%w: VM %q 缺少 vm id 且库中无同名记录", domain.ErrValidation, name)
		}
		u.logger.Info("resolved VM id by name", zap.String("name", name), zap.String("id", existing.ID))
		id = existing.ID
		if _, dup := seen[id]; dup {
			u.logger.Debug("duplicate VM in payload skipped", zap.String("name", name), zap.String("id", id))
			return outcomeDuplicate, nil
		}
		seen[id] = struct{}{}
	}

	vm, err := tx.LockVM(ctx, id)
	if err != nil {
		return outcomeUnchanged, fmt.Errorf("锁定 VM 失败: %w", err)
	}
	if vm == nil {
		// 二次确认，缩小并发创建的窗口
		if vm, err = tx.GetVM(ctx, id); err != nil {
			return outcomeUnchanged, fmt.Errorf("读取 VM 失败: %w", err)
		}
	}
	if vm == nil {
		created, err := u.create(ctx, tx, id, snap)
		if err != nil {
			return outcomeUnchanged, err
		}
		if created {
			u.logger.Info("created VM", zap.String("name", name), zap.String("id", id))
			return outcomeCreated, nil
		}
		// 并发写入方已抢先插入，按已存在记录处理
		if vm, err = tx.LockVM(ctx, id); err != nil {
			return outcomeUnchanged, fmt.Errorf("并发插入后重新加载 VM %s 失败: %w", id, err)
		}
		if vm == nil {
			return outcomeUnchanged, fmt.Errorf("并发插入后 VM %s 仍不可见", id)
		}
	}

	changed, err := u.apply(ctx, tx, vm, snap)
	if err != nil {
		return outcomeUnchanged, err
	}
	if !changed {
		return outcomeUnchanged, nil
	}
	u.logger.Debug("updated VM", zap.String("name", vm.Name), zap.String("id", id))
	return outcomeUpdated, nil
}

func (u *VMUpserter) create(ctx context.Context, tx store.Tx, id string, snap *domain.VMSnapshot) (bool, error) {
	vm := &domain.VM{ID: id, Name: id}
	applyFields(vm, snap)
	inserted, err := tx.InsertVM(ctx, vm)
	if err != nil {
		return false, fmt.Errorf("插入 VM 失败: %w", err)
	}
	if !inserted {
		return false, nil
	}
	if _, err := u.replaceChildren(ctx, tx, vm, snap); err != nil {
		return false, err
	}
	return true, nil
}

func (u *VMUpserter) apply(ctx context.Context, tx store.Tx, vm *domain.VM, snap *domain.VMSnapshot) (bool, error) {
	fieldsChanged := applyFields(vm, snap)
	if fieldsChanged {
		if err := tx.UpdateVM(ctx, vm); err != nil {
			return false, fmt.Errorf("更新 VM 失败: %w", err)
		}
	}
	childrenChanged, err := u.replaceChildren(ctx, tx, vm, snap)
	if err != nil {
		return false, err
	}
	return fieldsChanged || childrenChanged, nil
}

// replaceChildren 在集合不相等时整体替换磁盘和网卡，不做逐行修补。
func (u *VMUpserter) replaceChildren(ctx context.Context, tx store.Tx, vm *domain.VM, snap *domain.VMSnapshot) (bool, error) {
	changed := false
	if !normalize.SameSet(normalize.DiskKeysOfRecords(vm.Disks), normalize.DiskKeysOfSnapshots(snap.Disks)) {
		disks := make([]domain.Disk, 0, len(snap.Disks))
		for _, d := range snap.Disks {
			disks = append(disks, domain.Disk{Label: d.Label, SizeGB: normalize.Decimal(d.SizeGB)})
		}
		saved, err := tx.ReplaceDisks(ctx, vm.ID, disks)
		if err != nil {
			return false, fmt.Errorf("替换磁盘失败: %w", err)
		}
		vm.Disks = saved
		changed = true
	}
	if !normalize.SameSet(normalize.NICKeysOfRecords(vm.NICs), normalize.NICKeysOfSnapshots(snap.NICs)) {
		nics := make([]domain.NIC, 0, len(snap.NICs))
		for _, n := range snap.NICs {
			nics = append(nics, domain.NIC{
				Label:       n.Label,
				MAC:         n.MAC,
				Network:     n.Network,
				Connected:   n.Connected,
				NICType:     n.NICType,
				IPAddresses: append([]string(nil), n.IPAddresses...),
			})
		}
		saved, err := tx.ReplaceNICs(ctx, vm.ID, nics)
		if err != nil {
			return false, fmt.Errorf("替换网卡失败: %w", err)
		}
		vm.NICs = saved
		changed = true
	}
	return changed, nil
}

// applyFields 逐字段比较，只有真正不同才写入。
func applyFields(vm *domain.VM, snap *domain.VMSnapshot) bool {
	changed := false
	if name := strings.TrimSpace(snap.Name); name != "" && vm.Name != name {
		vm.Name = name
		changed = true
	}
	changed = setPtr(&vm.CPU, snap.CPU) || changed
	changed = setPtr(&vm.MemoryMB, snap.MemoryMB) || changed
	changed = setPtr(&vm.GuestOS, snap.GuestOS) || changed
	changed = setPtr(&vm.PowerState, normalize.PowerState(snap.PowerState)) || changed
	changed = setPtr(&vm.Hypervisor, snap.Hypervisor) || changed
	changed = setTime(&vm.CreatedDate, normalize.Date(snap.CreatedDate)) || changed
	changed = setTime(&vm.LastBootedDate, normalize.Date(snap.LastBootedDate)) || changed
	return changed
}

func setPtr[T comparable](dst **T, v *T) bool {
	cur := *dst
	switch {
	case cur == nil && v == nil:
		return false
	case cur != nil && v != nil && *cur == *v:
		return false
	}
	if v == nil {
		*dst = nil
	} else {
		val := *v
		*dst = &val
	}
	return true
}

func setTime(dst **time.Time, v *time.Time) bool {
	cur := *dst
	switch {
	case cur == nil && v == nil:
		return false
	case cur != nil && v != nil && cur.Equal(*v):
		return false
	}
	*dst = v
	return true
}

func describe(snap *domain.VMSnapshot) string {
	if snap.ID != "" {
		return snap.ID
	}
	return snap.Name
}

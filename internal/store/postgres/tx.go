package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"vminventory/internal/domain"
)

type tx struct {
	tx *sql.Tx
}

func (t *tx) LockVM(ctx context.Context, id string) (*domain.VM, error) {
	return getVM(ctx, t.tx, id, true)
}

func (t *tx) GetVM(ctx context.Context, id string) (*domain.VM, error) {
	return getVM(ctx, t.tx, id, false)
}

func (t *tx) FindVMByName(ctx context.Context, name string) (*domain.VM, error) {
	var id string
	err := t.tx.QueryRowContext(ctx, "SELECT id FROM vms WHERE name = $1 ORDER BY id LIMIT 1", name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("按名称查找 VM 失败: %w", err)
	}
	return getVM(ctx, t.tx, id, false)
}

// InsertVM 使用 on conflict do nothing，并发写入方先插入时返回 false。
func (t *tx) InsertVM(ctx context.Context, vm *domain.VM) (bool, error) {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO vms (id, name, cpu, memory_mb, guest_os, power_state, created_date, last_booted_date, hypervisor)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
		RETURNING created_at, updated_at`,
		vm.ID, vm.Name, vm.CPU, vm.MemoryMB, vm.GuestOS, vm.PowerState, vm.CreatedDate, vm.LastBootedDate, vm.Hypervisor,
	).Scan(&vm.CreatedAt, &vm.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("插入 VM 失败: %w", err)
	}
	return true, nil
}

func (t *tx) UpdateVM(ctx context.Context, vm *domain.VM) error {
	err := t.tx.QueryRowContext(ctx, `
		UPDATE vms SET name = $2, cpu = $3, memory_mb = $4, guest_os = $5, power_state = $6,
		    created_date = $7, last_booted_date = $8, hypervisor = $9, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`,
		vm.ID, vm.Name, vm.CPU, vm.MemoryMB, vm.GuestOS, vm.PowerState, vm.CreatedDate, vm.LastBootedDate, vm.Hypervisor,
	).Scan(&vm.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("vm %s: %w", vm.ID, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("更新 VM 失败: %w", err)
	}
	return nil
}

func (t *tx) ReplaceDisks(ctx context.Context, vmID string, disks []domain.Disk) ([]domain.Disk, error) {
	if _, err := t.tx.ExecContext(ctx, "DELETE FROM vm_disks WHERE vm_id = $1", vmID); err != nil {
		return nil, fmt.Errorf("清理磁盘失败: %w", err)
	}
	out := make([]domain.Disk, 0, len(disks))
	for _, d := range disks {
		d.VMID = vmID
		if err := t.tx.QueryRowContext(ctx,
			"INSERT INTO vm_disks (vm_id, label, size_gb) VALUES ($1, $2, $3) RETURNING id",
			vmID, d.Label, d.SizeGB).Scan(&d.ID); err != nil {
			return nil, fmt.Errorf("写入磁盘失败: %w", err)
		}
		out = append(out, d)
	}
	return out, nil
}

func (t *tx) ReplaceNICs(ctx context.Context, vmID string, nics []domain.NIC) ([]domain.NIC, error) {
	if _, err := t.tx.ExecContext(ctx, "DELETE FROM vm_nics WHERE vm_id = $1", vmID); err != nil {
		return nil, fmt.Errorf("清理网卡失败: %w", err)
	}
	out := make([]domain.NIC, 0, len(nics))
	for _, n := range nics {
		n.VMID = vmID
		ips := n.IPAddresses
		if ips == nil {
			ips = []string{}
		}
		payload, err := json.Marshal(ips)
		if err != nil {
			return nil, fmt.Errorf("编码 IP 列表失败: %w", err)
		}
		if err := t.tx.QueryRowContext(ctx, `
			INSERT INTO vm_nics (vm_id, label, mac, network, connected, nic_type, ip_addresses)
			VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
			vmID, n.Label, n.MAC, n.Network, n.Connected, n.NICType, string(payload)).Scan(&n.ID); err != nil {
			return nil, fmt.Errorf("写入网卡失败: %w", err)
		}
		out = append(out, n)
	}
	return out, nil
}

func (t *tx) Commit(context.Context) error {
	return t.tx.Commit()
}

// Rollback 对已结束的事务是空操作。
func (t *tx) Rollback(context.Context) error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// Package memory 提供进程内的 Store 实现，用于开发环境与测试。
// 写事务串行执行，提交时整体替换快照，回滚直接丢弃。
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"vminventory/internal/domain"
	"vminventory/internal/store"
)

var (
	_ store.Store           = (*Store)(nil)
	_ store.DistributedLock = (*Store)(nil)
)

type state struct {
	vms         map[string]*domain.VM
	nextChildID int64
}

func (s *state) clone() *state {
	out := &state{vms: make(map[string]*domain.VM, len(s.vms)), nextChildID: s.nextChildID}
	for id, vm := range s.vms {
		out.vms[id] = cloneVM(vm)
	}
	return out
}

// Store 是内存版持久化实现。
type Store struct {
	mu    sync.RWMutex
	txSem chan struct{}
	st    *state
	now   func() time.Time

	owners   map[int64]domain.Owner
	tags     map[int64]domain.Tag
	vmOwners map[string][]int64
	vmTags   map[string][]int64
	profiles map[int64]domain.Profile
	nextID   int64

	lockMu sync.Mutex
	locks  map[int64]bool
}

// New 创建空的内存 Store。
func New() *Store {
	return &Store{
		txSem:    make(chan struct{}, 1),
		st:       &state{vms: make(map[string]*domain.VM)},
		now:      func() time.Time { return time.Now().UTC() },
		owners:   make(map[int64]domain.Owner),
		tags:     make(map[int64]domain.Tag),
		vmOwners: make(map[string][]int64),
		vmTags:   make(map[string][]int64),
		profiles: make(map[int64]domain.Profile),
		locks:    make(map[int64]bool),
	}
}

// Begin 获取写事务，同一时刻只有一个事务在途。
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	select {
	case s.txSem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.mu.RLock()
	st := s.st.clone()
	s.mu.RUnlock()
	return &tx{store: s, st: st}, nil
}

func (s *Store) GetVM(_ context.Context, id string) (*domain.VM, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vm, ok := s.st.vms[id]
	if !ok {
		return nil, fmt.Errorf("vm %s: %w", id, domain.ErrNotFound)
	}
	out := cloneVM(vm)
	for _, oid := range s.vmOwners[id] {
		out.Owners = append(out.Owners, s.owners[oid])
	}
	for _, tid := range s.vmTags[id] {
		out.Tags = append(out.Tags, s.tags[tid])
	}
	return out, nil
}

func (s *Store) Summary(context.Context) (domain.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum domain.Summary
	for _, vm := range s.st.vms {
		sum.Total++
		switch {
		case vm.PowerState != nil && *vm.PowerState == domain.PowerStateOn:
			sum.PoweredOn++
		case vm.PowerState != nil && *vm.PowerState == domain.PowerStateOff:
			sum.PoweredOff++
		default:
			sum.Other++
		}
	}
	return sum, nil
}

func (s *Store) Close() error { return nil }

func (s *Store) ListEnabledProfiles(ctx context.Context) ([]domain.Profile, error) {
	all, _ := s.ListProfiles(ctx)
	out := all[:0]
	for _, p := range all {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) ListProfiles(context.Context) ([]domain.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetProfile(_ context.Context, id int64) (*domain.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, fmt.Errorf("profile %d: %w", id, domain.ErrNotFound)
	}
	return &p, nil
}

func (s *Store) SaveProfile(_ context.Context, p domain.Profile) (domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.profiles {
		if existing.Name == p.Name {
			p.ID = id
			s.profiles[id] = p
			return p, nil
		}
	}
	s.nextID++
	p.ID = s.nextID
	s.profiles[p.ID] = p
	return p, nil
}

func (s *Store) SeedProfile(_ context.Context, p domain.Profile) (domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.profiles {
		if existing.Name == p.Name {
			return existing, nil
		}
	}
	if p.Kind == "" {
		p.Kind = domain.ProfileKindVCenter
	}
	s.nextID++
	p.ID = s.nextID
	s.profiles[p.ID] = p
	return p, nil
}

func (s *Store) SetProfileEnabled(_ context.Context, id int64, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return fmt.Errorf("profile %d: %w", id, domain.ErrNotFound)
	}
	p.Enabled = enabled
	s.profiles[id] = p
	return nil
}

func (s *Store) CreateOwner(_ context.Context, o domain.Owner) (domain.Owner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	o.ID = s.nextID
	s.owners[o.ID] = o
	return o, nil
}

func (s *Store) CreateTag(_ context.Context, t domain.Tag) (domain.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.tags {
		if existing.Name == t.Name {
			return domain.Tag{}, fmt.Errorf("tag %q 已存在", t.Name)
		}
	}
	s.nextID++
	t.ID = s.nextID
	s.tags[t.ID] = t
	return t, nil
}

func (s *Store) AssignOwners(_ context.Context, vmID string, ownerIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.vms[vmID]; !ok {
		return fmt.Errorf("vm %s: %w", vmID, domain.ErrNotFound)
	}
	for _, id := range ownerIDs {
		if _, ok := s.owners[id]; !ok {
			return fmt.Errorf("owner %d: %w", id, domain.ErrNotFound)
		}
	}
	s.vmOwners[vmID] = append([]int64(nil), ownerIDs...)
	return nil
}

func (s *Store) AssignTags(_ context.Context, vmID string, tagIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.vms[vmID]; !ok {
		return fmt.Errorf("vm %s: %w", vmID, domain.ErrNotFound)
	}
	for _, id := range tagIDs {
		if _, ok := s.tags[id]; !ok {
			return fmt.Errorf("tag %d: %w", id, domain.ErrNotFound)
		}
	}
	s.vmTags[vmID] = append([]int64(nil), tagIDs...)
	return nil
}

// TryAcquire 进程内 advisory lock，仅用于单进程部署与测试。
func (s *Store) TryAcquire(_ context.Context, key int64) (bool, error) {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	if s.locks[key] {
		return false, nil
	}
	s.locks[key] = true
	return true, nil
}

func (s *Store) Release(_ context.Context, key int64) error {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	if !s.locks[key] {
		return domain.ErrLockNotHeld
	}
	delete(s.locks, key)
	return nil
}

type tx struct {
	store *Store
	st    *state
	done  bool
}

func (t *tx) LockVM(ctx context.Context, id string) (*domain.VM, error) {
	return t.GetVM(ctx, id)
}

func (t *tx) GetVM(_ context.Context, id string) (*domain.VM, error) {
	vm, ok := t.st.vms[id]
	if !ok {
		return nil, nil
	}
	return cloneVM(vm), nil
}

func (t *tx) FindVMByName(_ context.Context, name string) (*domain.VM, error) {
	ids := make([]string, 0, len(t.st.vms))
	for id, vm := range t.st.vms {
		if vm.Name == name {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Strings(ids)
	return cloneVM(t.st.vms[ids[0]]), nil
}

func (t *tx) InsertVM(_ context.Context, vm *domain.VM) (bool, error) {
	if _, ok := t.st.vms[vm.ID]; ok {
		return false, nil
	}
	now := t.store.now()
	rec := cloneVM(vm)
	rec.CreatedAt, rec.UpdatedAt = now, now
	rec.Disks, rec.NICs, rec.Owners, rec.Tags = nil, nil, nil, nil
	t.st.vms[vm.ID] = rec
	vm.CreatedAt, vm.UpdatedAt = now, now
	return true, nil
}

func (t *tx) UpdateVM(_ context.Context, vm *domain.VM) error {
	cur, ok := t.st.vms[vm.ID]
	if !ok {
		return fmt.Errorf("vm %s: %w", vm.ID, domain.ErrNotFound)
	}
	rec := cloneVM(vm)
	rec.Disks, rec.NICs = cur.Disks, cur.NICs
	rec.Owners, rec.Tags = nil, nil
	rec.CreatedAt = cur.CreatedAt
	rec.UpdatedAt = t.store.now()
	t.st.vms[vm.ID] = rec
	return nil
}

func (t *tx) ReplaceDisks(_ context.Context, vmID string, disks []domain.Disk) ([]domain.Disk, error) {
	cur, ok := t.st.vms[vmID]
	if !ok {
		return nil, fmt.Errorf("vm %s: %w", vmID, domain.ErrNotFound)
	}
	out := make([]domain.Disk, 0, len(disks))
	for _, d := range disks {
		t.st.nextChildID++
		d.ID, d.VMID = t.st.nextChildID, vmID
		out = append(out, d)
	}
	cur.Disks = append([]domain.Disk(nil), out...)
	return out, nil
}

func (t *tx) ReplaceNICs(_ context.Context, vmID string, nics []domain.NIC) ([]domain.NIC, error) {
	cur, ok := t.st.vms[vmID]
	if !ok {
		return nil, fmt.Errorf("vm %s: %w", vmID, domain.ErrNotFound)
	}
	out := make([]domain.NIC, 0, len(nics))
	for _, n := range nics {
		t.st.nextChildID++
		n.ID, n.VMID = t.st.nextChildID, vmID
		n.IPAddresses = append([]string(nil), n.IPAddresses...)
		out = append(out, n)
	}
	cur.NICs = cloneNICs(out)
	return out, nil
}

func (t *tx) Commit(context.Context) error {
	if t.done {
		return fmt.Errorf("事务已结束")
	}
	t.done = true
	t.store.mu.Lock()
	t.store.st = t.st
	t.store.mu.Unlock()
	<-t.store.txSem
	return nil
}

func (t *tx) Rollback(context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	<-t.store.txSem
	return nil
}

func cloneVM(vm *domain.VM) *domain.VM {
	out := *vm
	out.CPU = clonePtr(vm.CPU)
	out.MemoryMB = clonePtr(vm.MemoryMB)
	out.GuestOS = clonePtr(vm.GuestOS)
	out.PowerState = clonePtr(vm.PowerState)
	out.Hypervisor = clonePtr(vm.Hypervisor)
	out.CreatedDate = clonePtr(vm.CreatedDate)
	out.LastBootedDate = clonePtr(vm.LastBootedDate)
	out.Disks = append([]domain.Disk(nil), vm.Disks...)
	out.NICs = cloneNICs(vm.NICs)
	out.Owners = append([]domain.Owner(nil), vm.Owners...)
	out.Tags = append([]domain.Tag(nil), vm.Tags...)
	return &out
}

func cloneNICs(nics []domain.NIC) []domain.NIC {
	if nics == nil {
		return nil
	}
	out := make([]domain.NIC, len(nics))
	for i, n := range nics {
		n.IPAddresses = append([]string(nil), n.IPAddresses...)
		out[i] = n
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

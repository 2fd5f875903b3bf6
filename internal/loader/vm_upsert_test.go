package loader

import (
	"context"
	"errors"
	"testing"

	"vminventory/internal/domain"
	"vminventory/internal/store"
	"vminventory/internal/store/memory"
)

func intPtr(v int) *int { return &v }
func strPtr(v string) *string { return &v }
func f64Ptr(v float64) *float64 { return &v }

func webSnapshot(cpu int) domain.VMSnapshot {
	return domain.VMSnapshot{
		ID:         "uuid-1",
		Name:       "web01",
		CPU:        intPtr(cpu),
		MemoryMB:   intPtr(4096),
		PowerState: strPtr("poweredOn"),
		Disks:      []domain.DiskSnapshot{{Label: "Disk 1", SizeGB: f64Ptr(40.0)}},
		NICs:       []domain.NICSnapshot{},
	}
}

func TestUpsertEndToEnd(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	u := NewVMUpserter(s, nil)

	res, err := u.Upsert(ctx, []domain.VMSnapshot{webSnapshot(2)})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if res.Created != 1 || res.Changed != 1 {
		t.Fatalf("expect created=1 changed=1, got %+v", res)
	}
	vm, err := s.GetVM(ctx, "uuid-1")
	if err != nil {
		t.Fatalf("get vm: %v", err)
	}
	if vm.Name != "web01" || *vm.CPU != 2 || *vm.MemoryMB != 4096 || *vm.PowerState != "poweredOn" {
		t.Fatalf("unexpected vm %+v", vm)
	}
	if len(vm.Disks) != 1 || vm.Disks[0].Label != "Disk 1" || vm.Disks[0].SizeGB.Decimal.StringFixed(2) != "40.00" {
		t.Fatalf("unexpected disks %+v", vm.Disks)
	}
	if len(vm.NICs) != 0 {
		t.Fatalf("expect no nics, got %d", len(vm.NICs))
	}

	res, err = u.Upsert(ctx, []domain.VMSnapshot{webSnapshot(4)})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if res.Changed != 1 || res.Created != 0 {
		t.Fatalf("expect changed=1 created=0, got %+v", res)
	}
	vm, _ = s.GetVM(ctx, "uuid-1")
	if *vm.CPU != 4 {
		t.Fatalf("expect cpu 4, got %d", *vm.CPU)
	}

	res, err = u.Upsert(ctx, []domain.VMSnapshot{webSnapshot(4)})
	if err != nil {
		t.Fatalf("third upsert: %v", err)
	}
	if res.Changed != 0 || res.Unchanged != 1 {
		t.Fatalf("expect no changes, got %+v", res)
	}
}

func TestUpsertIsIdempotentWithChildren(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	u := NewVMUpserter(s, nil)
	snap := webSnapshot(2)
	snap.Disks = append(snap.Disks, domain.DiskSnapshot{Label: "Disk 2", SizeGB: f64Ptr(50.004999)})
	snap.NICs = []domain.NICSnapshot{
		{Label: "Network adapter 1", MAC: "00:50:56:aa:bb:01", Network: "VM Network", Connected: true, NICType: "VirtualVmxnet3", IPAddresses: []string{"10.0.0.5"}},
	}
	batch := []domain.VMSnapshot{snap}

	if _, err := u.Upsert(ctx, batch); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	res, err := u.Upsert(ctx, batch)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if res.Changed != 0 {
		t.Fatalf("expect idempotent upsert, got %+v", res)
	}

	noisy := snap
	noisy.Disks = []domain.DiskSnapshot{{Label: "Disk 1", SizeGB: f64Ptr(40.000001)}, {Label: "Disk 2", SizeGB: f64Ptr(50.0)}}
	res, err = u.Upsert(ctx, []domain.VMSnapshot{noisy})
	if err != nil {
		t.Fatalf("noisy upsert: %v", err)
	}
	if res.Changed != 0 {
		t.Fatalf("float noise must not be a diff, got %+v", res)
	}
}

func TestUpsertCollapsesDuplicates(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	u := NewVMUpserter(s, nil)

	res, err := u.Upsert(ctx, []domain.VMSnapshot{webSnapshot(2), webSnapshot(8)})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if res.Created != 1 || res.Duplicates != 1 || res.Processed != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	vm, _ := s.GetVM(ctx, "uuid-1")
	if *vm.CPU != 2 {
		t.Fatalf("first seen snapshot must win, got cpu %d", *vm.CPU)
	}
}

func TestUpsertReplacesWholeNICSet(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	u := NewVMUpserter(s, nil)
	snap := webSnapshot(2)
	snap.NICs = []domain.NICSnapshot{
		{Label: "nic1", MAC: "aa", Network: "net-a", Connected: true, NICType: "VirtualE1000"},
		{Label: "nic2", MAC: "bb", Network: "net-b", Connected: true, NICType: "VirtualE1000"},
	}
	if _, err := u.Upsert(ctx, []domain.VMSnapshot{snap}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	before, _ := s.GetVM(ctx, "uuid-1")
	oldIDs := map[int64]bool{}
	for _, n := range before.NICs {
		oldIDs[n.ID] = true
	}
	oldDiskID := before.Disks[0].ID

	changed := snap
	changed.NICs = []domain.NICSnapshot{snap.NICs[0], snap.NICs[1]}
	changed.NICs[1].Connected = false
	res, err := u.Upsert(ctx, []domain.VMSnapshot{changed})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if res.Changed != 1 {
		t.Fatalf("expect changed=1, got %+v", res)
	}
	after, _ := s.GetVM(ctx, "uuid-1")
	if len(after.NICs) != 2 {
		t.Fatalf("expect 2 nics, got %d", len(after.NICs))
	}
	for _, n := range after.NICs {
		if oldIDs[n.ID] {
			t.Fatalf("nic %s kept surrogate id %d, expected full replacement", n.Label, n.ID)
		}
	}
	if after.Disks[0].ID != oldDiskID {
		t.Fatalf("unchanged disk set must not be rewritten")
	}
}

func TestUpsertPreservesOwnersAndTags(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	u := NewVMUpserter(s, nil)
	if _, err := u.Upsert(ctx, []domain.VMSnapshot{webSnapshot(2)}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	owner, _ := s.CreateOwner(ctx, domain.Owner{Name: "alice", Email: "alice@example.com"})
	tag, _ := s.CreateTag(ctx, domain.Tag{Name: "prod"})
	if err := s.AssignOwners(ctx, "uuid-1", []int64{owner.ID}); err != nil {
		t.Fatalf("assign owners: %v", err)
	}
	if err := s.AssignTags(ctx, "uuid-1", []int64{tag.ID}); err != nil {
		t.Fatalf("assign tags: %v", err)
	}

	if _, err := u.Upsert(ctx, []domain.VMSnapshot{webSnapshot(16)}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	vm, _ := s.GetVM(ctx, "uuid-1")
	if *vm.CPU != 16 {
		t.Fatalf("cpu not updated")
	}
	if len(vm.Owners) != 1 || vm.Owners[0].Email != "alice@example.com" {
		t.Fatalf("owners lost: %+v", vm.Owners)
	}
	if len(vm.Tags) != 1 || vm.Tags[0].Name != "prod" {
		t.Fatalf("tags lost: %+v", vm.Tags)
	}
}

func TestUpsertSkipsInvalidAndResolvesByName(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	u := NewVMUpserter(s, nil)
	if _, err := u.Upsert(ctx, []domain.VMSnapshot{webSnapshot(2)}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	res, err := u.Upsert(ctx, []domain.VMSnapshot{
		{CPU: intPtr(1)},
		{Name: "ghost", CPU: intPtr(1)},
		{Name: "web01", CPU: intPtr(6), MemoryMB: intPtr(4096), PowerState: strPtr("poweredOn"),
			Disks: []domain.DiskSnapshot{{Label: "Disk 1", SizeGB: f64Ptr(40)}}},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if res.Skipped != 2 || res.Changed != 1 || res.Created != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	vm, _ := s.GetVM(ctx, "uuid-1")
	if *vm.CPU != 6 {
		t.Fatalf("name-resolved snapshot should update uuid-1, cpu=%d", *vm.CPU)
	}
	if _, err := s.GetVM(ctx, "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("no identifier must be invented for unknown names")
	}
}

func TestUpsertNeverStoresNonePowerState(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	u := NewVMUpserter(s, nil)
	snap := webSnapshot(2)
	snap.PowerState = nil
	if _, err := u.Upsert(ctx, []domain.VMSnapshot{snap}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	vm, _ := s.GetVM(ctx, "uuid-1")
	if vm.PowerState != nil {
		t.Fatalf("missing power state must stay null, got %q", *vm.PowerState)
	}
}

type failingCommitStore struct {
	*memory.Store
}

func (s failingCommitStore) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := s.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &failingCommitTx{Tx: tx}, nil
}

type failingCommitTx struct {
	store.Tx
}

func (t *failingCommitTx) Commit(context.Context) error {
	return errors.New("could not serialize access")
}

func TestUpsertCommitFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	u := NewVMUpserter(failingCommitStore{mem}, nil)

	res, err := u.Upsert(ctx, []domain.VMSnapshot{webSnapshot(2)})
	if !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("expect persistence error, got %v", err)
	}
	if res != (Result{}) {
		t.Fatalf("no success count on failure, got %+v", res)
	}
	if _, err := mem.GetVM(ctx, "uuid-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("failed batch must not be visible")
	}
	// 事务已释放，后续批次可以继续
	if _, err := NewVMUpserter(mem, nil).Upsert(ctx, []domain.VMSnapshot{webSnapshot(2)}); err != nil {
		t.Fatalf("store should be usable after rollback: %v", err)
	}
}

// racingTx 模拟另一个写入方在 select for update 与 insert 之间插入了同一台 VM。
type racingTx struct {
	store.Tx
	raced bool
}

func (t *racingTx) LockVM(ctx context.Context, id string) (*domain.VM, error) {
	if !t.raced {
		return nil, nil
	}
	return t.Tx.LockVM(ctx, id)
}

func (t *racingTx) GetVM(context.Context, string) (*domain.VM, error) {
	return nil, nil
}

func (t *racingTx) InsertVM(ctx context.Context, vm *domain.VM) (bool, error) {
	t.raced = true
	return false, nil
}

type racingStore struct {
	*memory.Store
}

func (s racingStore) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := s.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &racingTx{Tx: tx}, nil
}

func TestUpsertLosingCreateRaceUpdatesExisting(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	if _, err := NewVMUpserter(mem, nil).Upsert(ctx, []domain.VMSnapshot{webSnapshot(2)}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	res, err := NewVMUpserter(racingStore{mem}, nil).Upsert(ctx, []domain.VMSnapshot{webSnapshot(4)})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if res.Created != 0 || res.Changed != 1 {
		t.Fatalf("lost race must be treated as update, got %+v", res)
	}
	vm, _ := mem.GetVM(ctx, "uuid-1")
	if *vm.CPU != 4 {
		t.Fatalf("expect cpu 4, got %d", *vm.CPU)
	}
}

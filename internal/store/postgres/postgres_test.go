package postgres

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"vminventory/internal/domain"
)

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements(schemaSQL)
	require.NotEmpty(t, stmts)
	for _, s := range stmts {
		require.NotContains(t, s, ";")
	}
	require.Contains(t, stmts[0], "CREATE TABLE IF NOT EXISTS vms")
}

// openTestStore 连接 VMINVENTORY_TEST_DSN 指向的数据库，未设置时跳过。
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("VMINVENTORY_TEST_DSN")
	if dsn == "" {
		t.Skip("VMINVENTORY_TEST_DSN not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, Options{DSN: dsn, ConnectAttempts: 3}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	_, err = s.db.ExecContext(ctx, "TRUNCATE vms, owners, tags, connection_profiles CASCADE")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreVMRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	cpu := 2

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	inserted, err := tx.InsertVM(ctx, &domain.VM{ID: "uuid-1", Name: "web01", CPU: &cpu})
	require.NoError(t, err)
	require.True(t, inserted)
	again, err := tx.InsertVM(ctx, &domain.VM{ID: "uuid-1", Name: "web01"})
	require.NoError(t, err)
	require.False(t, again)

	disks, err := tx.ReplaceDisks(ctx, "uuid-1", []domain.Disk{{Label: "Disk 1", SizeGB: decimal.NewNullDecimal(decimal.RequireFromString("40.00"))}})
	require.NoError(t, err)
	require.NotZero(t, disks[0].ID)
	_, err = tx.ReplaceNICs(ctx, "uuid-1", []domain.NIC{{Label: "nic1", MAC: "aa", Connected: true, IPAddresses: []string{"10.0.0.1"}}})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	vm, err := s.GetVM(ctx, "uuid-1")
	require.NoError(t, err)
	require.Equal(t, "web01", vm.Name)
	require.Equal(t, 2, *vm.CPU)
	require.Nil(t, vm.PowerState)
	require.Len(t, vm.Disks, 1)
	require.Equal(t, "40.00", vm.Disks[0].SizeGB.Decimal.StringFixed(2))
	require.Equal(t, []string{"10.0.0.1"}, vm.NICs[0].IPAddresses)

	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	found, err := tx.FindVMByName(ctx, "web01")
	require.NoError(t, err)
	require.Equal(t, "uuid-1", found.ID)
	missing, err := tx.LockVM(ctx, "nope")
	require.NoError(t, err)
	require.Nil(t, missing)
	require.NoError(t, tx.Rollback(ctx))
	require.NoError(t, tx.Rollback(ctx))

	_, err = s.GetVM(ctx, "nope")
	require.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestStoreOwnersTagsAndSummary(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	on := domain.PowerStateOn

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.InsertVM(ctx, &domain.VM{ID: "a", Name: "a", PowerState: &on})
	require.NoError(t, err)
	_, err = tx.InsertVM(ctx, &domain.VM{ID: "b", Name: "b"})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	owner, err := s.CreateOwner(ctx, domain.Owner{Name: "alice", Email: "alice@example.com"})
	require.NoError(t, err)
	tag, err := s.CreateTag(ctx, domain.Tag{Name: "prod"})
	require.NoError(t, err)
	require.NoError(t, s.AssignOwners(ctx, "a", []int64{owner.ID}))
	require.NoError(t, s.AssignTags(ctx, "a", []int64{tag.ID}))
	require.ErrorIs(t, s.AssignTags(ctx, "a", []int64{tag.ID + 1000}), domain.ErrNotFound)
	require.ErrorIs(t, s.AssignOwners(ctx, "zzz", nil), domain.ErrNotFound)

	vm, err := s.GetVM(ctx, "a")
	require.NoError(t, err)
	require.Len(t, vm.Owners, 1)
	require.Len(t, vm.Tags, 1)

	sum, err := s.Summary(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.Summary{Total: 2, PoweredOn: 1, Other: 1}, sum)
}

func TestStoreProfilesAndLock(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p, err := s.SaveProfile(ctx, domain.Profile{Name: "vc1", Host: "vc1.local", Enabled: true})
	require.NoError(t, err)
	require.Equal(t, domain.ProfileKindVCenter, p.Kind)
	p2, err := s.SaveProfile(ctx, domain.Profile{Name: "vc1", Host: "vc1.example", Enabled: true})
	require.NoError(t, err)
	require.Equal(t, p.ID, p2.ID)
	require.NoError(t, s.SetProfileEnabled(ctx, p.ID, false))
	enabled, err := s.ListEnabledProfiles(ctx)
	require.NoError(t, err)
	require.Empty(t, enabled)

	seeded, err := s.SeedProfile(ctx, domain.Profile{Name: "vc1", Host: "vc1.seed", Password: "new", Enabled: true})
	require.NoError(t, err)
	require.Equal(t, p.ID, seeded.ID)
	require.False(t, seeded.Enabled)
	require.Equal(t, "vc1.example", seeded.Host)
	fresh, err := s.SeedProfile(ctx, domain.Profile{Name: "vc2", Host: "vc2.local", Enabled: true})
	require.NoError(t, err)
	require.NotEqual(t, p.ID, fresh.ID)
	require.Equal(t, domain.ProfileKindVCenter, fresh.Kind)

	ok, err := s.TryAcquire(ctx, 4242)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.TryAcquire(ctx, 4242)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, s.Release(ctx, 4242))
	require.ErrorIs(t, s.Release(ctx, 4242), domain.ErrLockNotHeld)
}

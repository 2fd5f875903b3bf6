package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"vminventory/internal/domain"
	"vminventory/internal/source"
	"vminventory/internal/store/memory"
)

func intPtr(v int) *int { return &v }

func newTestService(t *testing.T, fetcher source.Fetcher, profiles ...Profile) (*Service, *memory.Store) {
	t.Helper()
	st := memory.New()
	cfg := Config{Profiles: profiles}
	cfg.applyDefaults()
	svc := NewService(cfg, st, st, fetcher, nil, nil)
	if err := svc.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return svc, st
}

func TestSyncIsolatesFailingProfile(t *testing.T) {
	fetcher := &source.StaticFetcher{
		Snapshots: map[string][]domain.VMSnapshot{
			"dc-ok": {{ID: "uuid-1", Name: "web01", CPU: intPtr(2)}},
		},
		Errors: map[string]error{
			"dc-broken": &domain.ConnectionError{Host: "vc-broken", Err: errors.New("connection refused")},
		},
	}
	svc, st := newTestService(t, fetcher,
		Profile{Name: "dc-broken", Host: "vc-broken"},
		Profile{Name: "dc-ok", Host: "vc-ok"},
	)

	if err := svc.Sync(context.Background()); err != nil {
		t.Fatalf("sync should not surface profile errors: %v", err)
	}

	vm, err := st.GetVM(context.Background(), "uuid-1")
	if err != nil || vm == nil {
		t.Fatalf("vm from healthy profile not persisted: %v", err)
	}
	status := svc.Status()
	if status.LastRun == nil || len(status.LastRun.Profiles) != 2 {
		t.Fatalf("unexpected status: %+v", status)
	}
	byName := map[string]ProfileResult{}
	for _, p := range status.LastRun.Profiles {
		byName[p.Profile] = p
	}
	if byName["dc-broken"].Error == "" {
		t.Fatalf("broken profile should carry its error")
	}
	if ok := byName["dc-ok"]; ok.Error != "" || ok.Result.Created != 1 || ok.Fetched != 1 {
		t.Fatalf("unexpected healthy result: %+v", ok)
	}
	if status.LastRun.Failed() != 1 {
		t.Fatalf("expected 1 failed profile, got %d", status.LastRun.Failed())
	}
}

func TestSyncSkipsDisabledProfiles(t *testing.T) {
	off := false
	fetcher := &source.StaticFetcher{Snapshots: map[string][]domain.VMSnapshot{
		"dc-off": {{ID: "uuid-9", Name: "db09"}},
	}}
	svc, st := newTestService(t, fetcher, Profile{Name: "dc-off", Host: "vc", Enabled: &off})

	if err := svc.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if vm, _ := st.GetVM(context.Background(), "uuid-9"); vm != nil {
		t.Fatalf("disabled profile must not be synced")
	}
	if run := svc.Status().LastRun; run == nil || len(run.Profiles) != 0 {
		t.Fatalf("expected empty run, got %+v", run)
	}
}

type blockingFetcher struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (f *blockingFetcher) Fetch(ctx context.Context, _ domain.Profile) ([]domain.VMSnapshot, error) {
	if f.calls.Add(1) == 1 {
		close(f.started)
	}
	<-f.release
	return []domain.VMSnapshot{{ID: "uuid-1", Name: "web01"}}, nil
}

func (f *blockingFetcher) TestConnection(context.Context, domain.Profile) error { return nil }

func TestConcurrentSyncRunsOnce(t *testing.T) {
	fetcher := &blockingFetcher{started: make(chan struct{}), release: make(chan struct{})}
	svc, _ := newTestService(t, fetcher, Profile{Name: "dc1", Host: "vc1"})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := svc.Sync(context.Background()); err != nil {
			t.Errorf("first sync: %v", err)
		}
	}()
	<-fetcher.started

	if !svc.Status().Running {
		t.Fatalf("status should report a running sync")
	}
	done := make(chan error, 1)
	go func() { done <- svc.Sync(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("contended sync should be a no-op, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("contended sync blocked")
	}
	if got := fetcher.calls.Load(); got != 1 {
		t.Fatalf("fetcher contacted %d times, want 1", got)
	}

	close(fetcher.release)
	wg.Wait()
	if svc.Status().Running {
		t.Fatalf("status should be idle after sync")
	}
	if err := svc.Sync(context.Background()); err != nil {
		t.Fatalf("lock should be released after run: %v", err)
	}
	if got := fetcher.calls.Load(); got != 2 {
		t.Fatalf("expected second run to fetch, calls=%d", got)
	}
}

func TestTriggerSyncAndClose(t *testing.T) {
	fetcher := &source.StaticFetcher{Snapshots: map[string][]domain.VMSnapshot{
		"dc1": {{ID: "uuid-1", Name: "web01"}},
	}}
	svc, st := newTestService(t, fetcher, Profile{Name: "dc1", Host: "vc1"})

	svc.TriggerSync()
	if err := svc.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if vm, _ := st.GetVM(context.Background(), "uuid-1"); vm == nil {
		t.Fatalf("triggered sync should finish before close returns")
	}
}

func TestGuardReleasesAfterError(t *testing.T) {
	st := memory.New()
	g := &Guard{Lock: st, Key: 42}
	boom := errors.New("boom")

	ran, err := g.Run(context.Background(), func(context.Context) error { return boom })
	if !ran || !errors.Is(err, boom) {
		t.Fatalf("ran=%v err=%v", ran, err)
	}
	ok, err := st.TryAcquire(context.Background(), 42)
	if err != nil || !ok {
		t.Fatalf("lock should be free after failed run: ok=%v err=%v", ok, err)
	}
	ran, err = g.Run(context.Background(), func(context.Context) error {
		t.Fatalf("fn must not run while lock is held")
		return nil
	})
	if ran || err != nil {
		t.Fatalf("contention should be silent: ran=%v err=%v", ran, err)
	}
}

func TestServiceQueries(t *testing.T) {
	svc, _ := newTestService(t, &source.StaticFetcher{
		Errors: map[string]error{"dc-bad": errors.New("auth failed")},
	}, Profile{Name: "dc-bad", Host: "vc"})
	ctx := context.Background()

	if _, err := svc.GetVM(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Topology(ctx, "any"); !errors.Is(err, ErrGraphDisabled) {
		t.Fatalf("expected ErrGraphDisabled, got %v", err)
	}
	profiles, err := svc.Profiles(ctx)
	if err != nil || len(profiles) != 1 {
		t.Fatalf("profiles: %v %v", profiles, err)
	}
	if !profiles[0].DisableSSL || !profiles[0].Enabled || profiles[0].Kind != domain.ProfileKindVCenter {
		t.Fatalf("seeded profile defaults wrong: %+v", profiles[0])
	}
	if err := svc.TestProfile(ctx, profiles[0].ID); err == nil {
		t.Fatalf("expected connection test error")
	}
	if err := svc.TestProfile(ctx, 999); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := svc.SetProfileEnabled(ctx, profiles[0].ID, false); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	sum, err := svc.Summary(ctx)
	if err != nil || sum.Total != 0 {
		t.Fatalf("summary: %+v %v", sum, err)
	}
}

func TestInitKeepsOperatorToggleAcrossRestart(t *testing.T) {
	st := memory.New()
	cfg := Config{Profiles: []Profile{{Name: "dc1", Host: "vc1", Password: "old"}}}
	cfg.applyDefaults()
	ctx := context.Background()

	first := NewService(cfg, st, st, &source.StaticFetcher{}, nil, nil)
	if err := first.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	profiles, _ := first.Profiles(ctx)
	if len(profiles) != 1 || !profiles[0].Enabled {
		t.Fatalf("seeded profile should be enabled: %+v", profiles)
	}
	if err := first.SetProfileEnabled(ctx, profiles[0].ID, false); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	cfg.Profiles[0].Password = "rotated-in-yaml"
	second := NewService(cfg, st, st, &source.StaticFetcher{}, nil, nil)
	if err := second.Init(ctx); err != nil {
		t.Fatalf("second init: %v", err)
	}
	profiles, _ = second.Profiles(ctx)
	if len(profiles) != 1 {
		t.Fatalf("re-seeding must not duplicate profiles: %+v", profiles)
	}
	if profiles[0].Enabled {
		t.Fatalf("disabled profile was re-enabled by startup seeding")
	}
	if profiles[0].Password != "old" {
		t.Fatalf("existing profile should not be overwritten, password=%q", profiles[0].Password)
	}
}

type migratingStore struct {
	*memory.Store
	migrations int
}

func (m *migratingStore) Migrate(context.Context) error {
	m.migrations++
	return nil
}

func TestInitMigratesOnlyWhenEnabled(t *testing.T) {
	ctx := context.Background()
	for _, auto := range []bool{false, true} {
		st := &migratingStore{Store: memory.New()}
		cfg := Config{Store: Store{AutoMigrate: auto}}
		cfg.applyDefaults()
		svc := NewService(cfg, st, st, &source.StaticFetcher{}, nil, nil)
		if err := svc.Init(ctx); err != nil {
			t.Fatalf("init: %v", err)
		}
		want := 0
		if auto {
			want = 1
		}
		if st.migrations != want {
			t.Fatalf("auto_migrate=%v: migrations=%d want %d", auto, st.migrations, want)
		}
		if err := svc.Migrate(ctx); err != nil {
			t.Fatalf("migrate: %v", err)
		}
		if st.migrations != want+1 {
			t.Fatalf("explicit migrate should always run, migrations=%d", st.migrations)
		}
	}
}

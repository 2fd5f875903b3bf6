package job

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"vminventory/internal/app"
)

func TestSpec(t *testing.T) {
	if got := Spec(app.Sync{IntervalMinutes: 30}); got != "@every 30m0s" {
		t.Fatalf("interval spec = %q", got)
	}
	if got := Spec(app.Sync{IntervalMinutes: 30, Cron: " 0 */2 * * * "}); got != "0 */2 * * *" {
		t.Fatalf("cron override = %q", got)
	}
	if _, err := cron.ParseStandard(Spec(app.Sync{IntervalMinutes: 5})); err != nil {
		t.Fatalf("interval spec must parse: %v", err)
	}
}

func TestRunOnceLogsFailure(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := NewScheduler(app.Config{}, func(context.Context) error { return errors.New("boom") }, zap.New(core))
	s.runOnce()
	if logs.FilterMessage("scheduled sync failed").Len() != 1 {
		t.Fatalf("expected failure log, got %v", logs.All())
	}
}

func TestRunOnceSkipsAfterCancel(t *testing.T) {
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewScheduler(app.Config{}, func(context.Context) error { calls.Add(1); return nil }, nil)
	s.parent = ctx
	s.runOnce()
	if calls.Load() != 0 {
		t.Fatalf("sync must not run after cancellation")
	}
}

func TestSchedulerSkipsOverlappingTicks(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	cfg := app.Config{Sync: app.Sync{Cron: "@every 1s"}}
	s := NewScheduler(cfg, func(context.Context) error {
		calls.Add(1)
		<-release
		return nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	stop := s.Start(ctx)
	time.Sleep(3500 * time.Millisecond)
	close(release)
	cancel()
	stop()

	if got := calls.Load(); got != 1 {
		t.Fatalf("overlapping ticks should be dropped, calls=%d", got)
	}
}

func TestHeartbeatLogsLastRun(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := NewHeartbeat(func() app.Status {
		return app.Status{LastRun: &app.RunSummary{RunID: "run-1"}}
	}, zap.New(core))
	h.beat()
	entries := logs.FilterMessage("inventory heartbeat").All()
	if len(entries) != 1 || entries[0].ContextMap()["last_run_id"] != "run-1" {
		t.Fatalf("unexpected heartbeat logs: %v", logs.All())
	}
}

package retention

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jholhewres/zapflow/pkg/zapflow/session"
)

func openStore(t *testing.T) *session.Store {
	t.Helper()
	s, err := session.Open(filepath.Join(t.TempDir(), "sessions.db"), 10, nil)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSweep(t *testing.T) {
	ctx := context.Background()

	t.Run("short TTL purges everything", func(t *testing.T) {
		store := openStore(t)
		_, _ = store.Get(ctx, "chat-a")
		_ = store.PutRegistration(ctx, &session.Registration{
			Phone: "5511", Step: session.StepAwaitingName,
		})

		// Timestamps persist at second granularity; cross the boundary.
		time.Sleep(1100 * time.Millisecond)
		sw := New(Config{SessionTTL: time.Nanosecond, RegistrationTTL: time.Nanosecond}, store, nil)
		sw.Sweep(ctx)

		if reg, _ := store.GetRegistration(ctx, "5511"); reg != nil {
			t.Errorf("expected registration purged, got %+v", reg)
		}
	})

	t.Run("zero TTL keeps everything", func(t *testing.T) {
		store := openStore(t)
		_, _ = store.Get(ctx, "chat-b")
		_ = store.PutRegistration(ctx, &session.Registration{
			Phone: "5522", Step: session.StepAwaitingName,
		})

		sw := New(Config{}, store, nil)
		sw.Sweep(ctx)

		if reg, _ := store.GetRegistration(ctx, "5522"); reg == nil {
			t.Error("zero TTL must not purge registrations")
		}
	})
}

func TestStart(t *testing.T) {
	store := openStore(t)

	t.Run("empty schedule disables the sweeper", func(t *testing.T) {
		sw := New(Config{}, store, nil)
		sw.Start()
		if sw.cron != nil {
			t.Error("expected no cron with empty schedule")
		}
		sw.Stop()
	})

	t.Run("invalid schedule disables the sweeper", func(t *testing.T) {
		sw := New(Config{Schedule: "not a cron"}, store, nil)
		sw.Start()
		if sw.cron != nil {
			t.Error("expected no cron with invalid schedule")
		}
		sw.Stop()
	})

	t.Run("valid schedule starts and stops", func(t *testing.T) {
		sw := New(DefaultConfig(), store, nil)
		sw.Start()
		if sw.cron == nil {
			t.Fatal("expected running cron")
		}
		sw.Stop()
	})
}

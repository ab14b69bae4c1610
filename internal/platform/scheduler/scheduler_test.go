package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Yostina-hub/git-import-whys-sub001/internal/platform/db"
)

func newTestScheduler(t *testing.T, clinics []string) *Scheduler {
	t.Helper()
	s, err := New(nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Shutdown() })

	s.clinics = func(context.Context) ([]string, error) { return clinics, nil }
	s.scope = func(ctx context.Context, clinic string) (context.Context, func(), error) {
		if clinic == "broken" {
			return ctx, nil, errors.New("no such schema")
		}
		return db.WithClinic(ctx, clinic), func() {}, nil
	}
	return s
}

func TestRunOnce_VisitsEveryClinic(t *testing.T) {
	s := newTestScheduler(t, []string{"north", "broken", "south", "east"})

	var mu sync.Mutex
	var seen []string
	s.RunOnce("test", func(ctx context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		clinic := db.ClinicFromContext(ctx)
		seen = append(seen, clinic)
		if clinic == "south" {
			return errors.New("boom")
		}
		return nil
	})

	sort.Strings(seen)
	want := []string{"east", "north", "south"}
	if len(seen) != len(want) {
		t.Fatalf("expected %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, seen)
		}
	}
}

func TestRunOnce_ListFailure(t *testing.T) {
	s := newTestScheduler(t, nil)
	s.clinics = func(context.Context) ([]string, error) { return nil, errors.New("db down") }

	called := false
	s.RunOnce("test", func(context.Context) error { called = true; return nil })
	if called {
		t.Error("task should not run when clinics cannot be listed")
	}
}

func TestRunOnce_StopsAfterShutdown(t *testing.T) {
	s := newTestScheduler(t, []string{"north"})
	_ = s.Shutdown()

	called := false
	s.RunOnce("test", func(context.Context) error { called = true; return nil })
	if called {
		t.Error("task should not run after shutdown")
	}
}

func TestSchedule_RegistersJobs(t *testing.T) {
	s := newTestScheduler(t, nil)

	if err := s.Every("appointment-reminders", 5*time.Minute, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Every: %v", err)
	}
	if err := s.Cron("queue-reset", "0 2 * * *", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Cron: %v", err)
	}
	if err := s.Cron("bad", "not a cron", func(context.Context) error { return nil }); err == nil {
		t.Error("expected error for invalid cron spec")
	}

	names := s.JobNames()
	sort.Strings(names)
	if len(names) != 2 || names[0] != "appointment-reminders" || names[1] != "queue-reset" {
		t.Errorf("unexpected jobs: %v", names)
	}
}

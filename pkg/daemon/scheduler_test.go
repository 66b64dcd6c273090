package daemon

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Rivega42/bookcab/pkg/events"
)

type fakeRunner struct {
	mu   sync.Mutex
	busy bool
	runs int
}

func (f *fakeRunner) Busy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy
}

func (f *fakeRunner) RunInventory(context.Context) (InventoryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
	return InventoryResult{}, nil
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

func TestSchedulerRejectsBadExpression(t *testing.T) {
	if _, err := NewScheduler("not a cron line", &fakeRunner{}, events.NewEventHub()); err == nil {
		t.Fatal("bad cron expression accepted")
	}
}

func TestSchedulerFires(t *testing.T) {
	runner := &fakeRunner{}
	s, err := NewScheduler("@every 1s", runner, events.NewEventHub())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	s.Start()
	defer s.Stop()

	deadline := time.After(3 * time.Second)
	for runner.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("scheduler never fired")
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestSchedulerSkipsWhileBusy(t *testing.T) {
	runner := &fakeRunner{busy: true}
	s, err := NewScheduler("@every 1s", runner, events.NewEventHub())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	hub := events.NewEventHub()
	s.hub = hub
	sub := hub.Subscribe()
	defer hub.Unsubscribe(sub)

	s.Start()
	defer s.Stop()

	select {
	case ev := <-sub:
		if ev.Name != events.Progress {
			t.Fatalf("event = %q, want progress skip notice", ev.Name)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no skip event")
	}
	if runner.count() != 0 {
		t.Errorf("inventory ran %d times while busy", runner.count())
	}

	// Freeing the mechanism lets the next tick run.
	runner.mu.Lock()
	runner.busy = false
	runner.mu.Unlock()

	deadline := time.After(3 * time.Second)
	for runner.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("scheduler never ran after mechanism freed")
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestSchedulerNextRunAdvances(t *testing.T) {
	runner := &fakeRunner{}
	s, err := NewScheduler("@every 1s", runner, events.NewEventHub())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	first := s.NextRun()
	if first.IsZero() || !first.After(time.Now().Add(-time.Second)) {
		t.Fatalf("next run %v not in the near future", first)
	}

	s.Start()
	defer s.Stop()

	deadline := time.After(3 * time.Second)
	for !s.NextRun().After(first) {
		select {
		case <-deadline:
			t.Fatal("next run never advanced")
		case <-time.After(50 * time.Millisecond):
		}
	}
}

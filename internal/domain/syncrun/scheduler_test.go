package syncrun

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/holovitals/synccore/internal/platform/provider"
)

func runCount(m *mockRunRepo) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

func TestSchedulerTriggersDueConnection(t *testing.T) {
	env := newTestEnv(t)
	env.adapter.records["Observation"] = []provider.Record{
		obsRecord("obs-1", "1", 72, nil),
	}

	past := time.Now().Add(-time.Minute)
	env.connRepo.mu.Lock()
	env.conn.NextSyncAt = &past
	env.connRepo.mu.Unlock()

	sched := NewScheduler(env.orch, 10*time.Millisecond, zerolog.Nop())
	sched.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for runCount(env.runs) == 0 {
		if time.Now().After(deadline) {
			sched.Stop()
			t.Fatal("scheduler never triggered a run for the due connection")
		}
		time.Sleep(5 * time.Millisecond)
	}
	sched.Stop()

	env.connRepo.mu.Lock()
	next := env.conn.NextSyncAt
	env.connRepo.mu.Unlock()
	if next == nil || !next.After(time.Now()) {
		t.Fatalf("nextSyncAt = %v, want pushed past now by the cadence", next)
	}
}

func TestSchedulerSkipsConnectionAlreadySyncing(t *testing.T) {
	env := newTestEnv(t)

	past := time.Now().Add(-time.Minute)
	env.connRepo.mu.Lock()
	env.conn.NextSyncAt = &past
	env.connRepo.mu.Unlock()

	if err := env.orch.Locks().Acquire(env.conn.ID); err != nil {
		t.Fatalf("pre-acquire run lock: %v", err)
	}
	defer env.orch.Locks().Release(env.conn.ID)

	sched := NewScheduler(env.orch, 10*time.Millisecond, zerolog.Nop())
	sched.Start(context.Background())
	time.Sleep(60 * time.Millisecond)
	sched.Stop()

	if n := runCount(env.runs); n != 0 {
		t.Fatalf("runs created = %d, want 0 while the connection is locked", n)
	}
}

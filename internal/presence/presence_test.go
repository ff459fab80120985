package presence

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ghosttext/ghosttext/internal/store"
)

const testChannel = "2e37e51175a1857402bff8a8fa01f997"

func waitUsers(t *testing.T, ch <-chan []string, want int) []string {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case users, ok := <-ch:
			if !ok {
				t.Fatal("presence channel closed")
			}
			if len(users) == want {
				return users
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %d users", want)
		}
	}
}

func TestRegisterVisibleToObservers(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	ctx := context.Background()

	users, cancel, err := Observe(ctx, st, testChannel)
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()
	waitUsers(t, users, 0)

	alice := NewTracker(st, testChannel, "alice")
	if err := alice.Register(ctx); err != nil {
		t.Fatal(err)
	}

	got := waitUsers(t, users, 1)
	if got[0] != "alice" {
		t.Fatalf("expected alice online, got %v", got)
	}
}

func TestObserveSorted(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	ctx := context.Background()

	for _, name := range []string{"carol", "alice", "bob"} {
		if err := NewTracker(st, testChannel, name).Register(ctx); err != nil {
			t.Fatal(err)
		}
	}

	users, cancel, err := Observe(ctx, st, testChannel)
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	got := waitUsers(t, users, 3)
	if got[0] != "alice" || got[1] != "bob" || got[2] != "carol" {
		t.Fatalf("expected sorted users, got %v", got)
	}
}

func TestDeregisterRemovesRecord(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	ctx := context.Background()

	alice := NewTracker(st, testChannel, "alice")
	if err := alice.Register(ctx); err != nil {
		t.Fatal(err)
	}
	alice.Deregister(ctx)

	snap, _ := st.List(ctx, "presence/"+testChannel)
	if len(snap) != 0 {
		t.Fatal("deregister must remove the record")
	}

	// Deregistering again is harmless.
	alice.Deregister(ctx)
}

func TestAbruptDisconnectSelfHeals(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	alice := NewTracker(st, testChannel, "alice")
	if err := alice.Register(ctx); err != nil {
		t.Fatal(err)
	}

	snap, _ := st.List(ctx, "presence/"+testChannel)
	if len(snap) != 1 {
		t.Fatal("record should exist while connected")
	}

	// Simulate a crash: no deregistration runs, only the store's
	// server-enforced hook.
	st.CloseAbrupt()

	snap, _ = st.List(ctx, "presence/"+testChannel)
	if len(snap) != 0 {
		t.Fatal("disconnect hook must remove the record without client code")
	}
}

func TestHeartbeatRefreshesLastSeen(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	ctx := context.Background()

	var millis atomic.Int64
	millis.Store(1_000_000)
	alice := NewTracker(st, testChannel, "alice",
		WithHeartbeat(10*time.Millisecond),
		WithClock(func() time.Time { return time.UnixMilli(millis.Load()) }))
	if err := alice.Register(ctx); err != nil {
		t.Fatal(err)
	}
	defer alice.Deregister(ctx)

	millis.Store(2_000_000)

	deadline := time.After(2 * time.Second)
	for {
		snap, _ := st.List(ctx, "presence/"+testChannel)
		var record Record
		if raw, ok := snap["alice"]; ok {
			if err := json.Unmarshal(raw, &record); err == nil && record.LastSeen == 2_000_000 {
				return
			}
		}
		select {
		case <-deadline:
			t.Fatal("heartbeat never refreshed last_seen")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

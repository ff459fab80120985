package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/ghosttext/ghosttext/internal/store"
)

type record struct {
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	Sender    string `json:"sender"`
	TTL       int64  `json:"ttl,omitempty"`
}

func TestExpiredMessageDeleted(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	ctx := context.Background()

	now := time.UnixMilli(1_000_000)
	st.Push(ctx, "messages/chan1", record{Content: "x", Timestamp: 1, TTL: now.UnixMilli() - 1})

	s := New(st, WithClock(func() time.Time { return now }))
	if got := s.SweepOnce(ctx); got != 1 {
		t.Fatalf("expected 1 deletion, got %d", got)
	}

	snap, _ := st.List(ctx, "messages/chan1")
	if len(snap) != 0 {
		t.Fatal("expired message should be gone")
	}
}

func TestMessageWithoutTTLNeverExpires(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	ctx := context.Background()

	st.Push(ctx, "messages/chan1", record{Content: "x", Timestamp: 1})

	// Even in the far future, a TTL-less message stays.
	farFuture := time.UnixMilli(1 << 50)
	s := New(st, WithClock(func() time.Time { return farFuture }))
	if got := s.SweepOnce(ctx); got != 0 {
		t.Fatalf("expected 0 deletions, got %d", got)
	}
	snap, _ := st.List(ctx, "messages/chan1")
	if len(snap) != 1 {
		t.Fatal("message without TTL must never be deleted")
	}
}

func TestUnexpiredMessageKept(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	ctx := context.Background()

	now := time.UnixMilli(1_000_000)
	st.Push(ctx, "messages/chan1", record{Content: "x", Timestamp: 1, TTL: now.UnixMilli() + 60_000})

	s := New(st, WithClock(func() time.Time { return now }))
	if got := s.SweepOnce(ctx); got != 0 {
		t.Fatalf("expected 0 deletions, got %d", got)
	}

	// TTL equal to now is not yet expired (expiry requires now > ttl).
	st.Push(ctx, "messages/chan1", record{Content: "y", Timestamp: 2, TTL: now.UnixMilli()})
	if got := s.SweepOnce(ctx); got != 0 {
		t.Fatalf("ttl == now must not expire, got %d deletions", got)
	}
}

func TestSweepIdempotent(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	ctx := context.Background()

	now := time.UnixMilli(1_000_000)
	st.Push(ctx, "messages/chan1", record{Content: "x", Timestamp: 1, TTL: 1})
	st.Push(ctx, "messages/chan2", record{Content: "y", Timestamp: 2, TTL: 1})

	s := New(st, WithClock(func() time.Time { return now }))
	if got := s.SweepOnce(ctx); got != 2 {
		t.Fatalf("expected 2 deletions, got %d", got)
	}
	if got := s.SweepOnce(ctx); got != 0 {
		t.Fatalf("second sweep with no time elapsed must delete 0, got %d", got)
	}
}

func TestSweepSpansAllChannels(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	ctx := context.Background()

	now := time.UnixMilli(1_000_000)
	st.Push(ctx, "messages/aaa", record{TTL: 1})
	st.Push(ctx, "messages/bbb", record{TTL: 1})
	st.Push(ctx, "messages/bbb", record{TTL: now.UnixMilli() + 1})

	s := New(st, WithClock(func() time.Time { return now }))
	if got := s.SweepOnce(ctx); got != 2 {
		t.Fatalf("expected 2 deletions across channels, got %d", got)
	}
}

func TestStalePresencePruned(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	ctx := context.Background()

	now := time.UnixMilli(10_000_000)
	stale := map[string]any{"online": true, "last_seen": now.Add(-10 * time.Minute).UnixMilli()}
	fresh := map[string]any{"online": true, "last_seen": now.Add(-10 * time.Second).UnixMilli()}
	st.Set(ctx, "presence/chan1/ghost", stale)
	st.Set(ctx, "presence/chan1/alice", fresh)

	s := New(st,
		WithClock(func() time.Time { return now }),
		WithPresenceTTL(2*time.Minute))
	s.SweepOnce(ctx)

	snap, _ := st.List(ctx, "presence/chan1")
	if _, ok := snap["ghost"]; ok {
		t.Fatal("stale presence record should be pruned")
	}
	if _, ok := snap["alice"]; !ok {
		t.Fatal("fresh presence record must survive")
	}
}

func TestStatsAccumulate(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	ctx := context.Background()

	now := time.UnixMilli(1_000_000)
	st.Push(ctx, "messages/chan1", record{TTL: 1})

	s := New(st, WithClock(func() time.Time { return now }))
	s.SweepOnce(ctx)
	s.SweepOnce(ctx)

	stats := s.Stats()
	if stats.Runs != 2 {
		t.Fatalf("expected 2 runs, got %d", stats.Runs)
	}
	if stats.TotalDeleted != 1 {
		t.Fatalf("expected 1 total deletion, got %d", stats.TotalDeleted)
	}
	if stats.LastDeleted != 0 {
		t.Fatalf("last run deleted nothing, got %d", stats.LastDeleted)
	}
}

// Package sweeper deletes expired messages. It is a background job
// independent of any client session: one shared instance serves every
// channel in the store. Deleting a message past its TTL is idempotent and
// commutes with reads, which is what makes running it concurrently with
// live clients safe.
package sweeper

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ghosttext/ghosttext/internal/metrics"
	"github.com/ghosttext/ghosttext/internal/store"
)

// DefaultInterval is how often the sweep runs.
const DefaultInterval = 5 * time.Minute

// expirable is the subset of the message record the sweeper reads. It never
// touches content: ciphertext stays opaque even to the operator's own job.
type expirable struct {
	TTL int64 `json:"ttl"`
}

// staleRecord is the subset of a presence record used for pruning.
type staleRecord struct {
	LastSeen int64 `json:"last_seen"`
}

// Stats describes the most recent and cumulative sweep activity.
type Stats struct {
	LastRun        time.Time `json:"last_run"`
	LastDeleted    int       `json:"last_deleted"`
	TotalDeleted   int64     `json:"total_deleted"`
	PresencePruned int64     `json:"presence_pruned"`
	Runs           int64     `json:"runs"`
}

// Sweeper periodically deletes messages whose TTL has passed, and
// optionally prunes presence records whose heartbeat went quiet.
type Sweeper struct {
	store       store.Store
	interval    time.Duration
	presenceTTL time.Duration
	now         func() time.Time
	logger      zerolog.Logger

	mu    sync.Mutex
	stats Stats
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithInterval overrides the sweep period.
func WithInterval(d time.Duration) Option {
	return func(s *Sweeper) { s.interval = d }
}

// WithPresenceTTL enables pruning of presence records not refreshed within
// d. Zero disables pruning (stores with real disconnect hooks don't need it).
func WithPresenceTTL(d time.Duration) Option {
	return func(s *Sweeper) { s.presenceTTL = d }
}

// WithClock injects the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// WithLogger sets the sweeper logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Sweeper) { s.logger = logger }
}

// New creates a sweeper over the store.
func New(st store.Store, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:    st,
		interval: DefaultInterval,
		now:      time.Now,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps on the configured period until ctx is cancelled. Errors are
// logged and swallowed: there is no caller to raise to.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.SweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce enumerates every channel's messages and deletes those past
// their TTL. Messages without a TTL never expire. Returns the deletion
// count. Best-effort and idempotent: a second run with nothing expired
// deletes nothing, and racing sweeps are safe because delete-if-exists is
// idempotent.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	start := s.now()
	deleted := s.sweepMessages(ctx)
	pruned := 0
	if s.presenceTTL > 0 {
		pruned = s.prunePresence(ctx)
	}

	metrics.SweepRuns.Inc()
	metrics.SweepDuration.Observe(time.Since(start).Seconds())

	s.mu.Lock()
	s.stats.LastRun = start
	s.stats.LastDeleted = deleted
	s.stats.TotalDeleted += int64(deleted)
	s.stats.PresencePruned += int64(pruned)
	s.stats.Runs++
	s.mu.Unlock()

	s.logger.Info().
		Int("deleted", deleted).
		Int("presence_pruned", pruned).
		Msg("expiry sweep completed")
	return deleted
}

func (s *Sweeper) sweepMessages(ctx context.Context) int {
	channels, err := s.store.Children(ctx, "messages")
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to enumerate channels")
		return 0
	}

	now := s.now().UnixMilli()
	deleted := 0
	for _, channelID := range channels {
		path := "messages/" + channelID
		snap, err := s.store.List(ctx, path)
		if err != nil {
			s.logger.Error().Err(err).Str("channel", channelID).Msg("failed to list messages")
			continue
		}

		for key, raw := range snap {
			var msg expirable
			if err := json.Unmarshal(raw, &msg); err != nil {
				continue
			}
			if msg.TTL == 0 || now <= msg.TTL {
				continue
			}
			if err := s.store.Delete(ctx, path+"/"+key); err != nil {
				s.logger.Error().Err(err).Str("key", key).Msg("failed to delete expired message")
				continue
			}
			deleted++
			metrics.MessagesExpired.Inc()
		}
	}
	return deleted
}

func (s *Sweeper) prunePresence(ctx context.Context) int {
	channels, err := s.store.Children(ctx, "presence")
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to enumerate presence")
		return 0
	}

	cutoff := s.now().Add(-s.presenceTTL).UnixMilli()
	pruned := 0
	for _, channelID := range channels {
		path := "presence/" + channelID
		snap, err := s.store.List(ctx, path)
		if err != nil {
			continue
		}
		for user, raw := range snap {
			var record staleRecord
			if err := json.Unmarshal(raw, &record); err != nil {
				continue
			}
			if record.LastSeen >= cutoff {
				continue
			}
			if err := s.store.Delete(ctx, path+"/"+user); err != nil {
				continue
			}
			pruned++
			metrics.StalePresencePruned.Inc()
		}
	}
	return pruned
}

// Stats returns a copy of the sweeper's counters for the ops endpoint.
func (s *Sweeper) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

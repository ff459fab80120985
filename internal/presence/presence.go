// Package presence maintains per-user liveness records tied to the
// connection lifetime. Registration arms the store's disconnect hook, so a
// crashed client's record is removed server-side with no client code
// running. Observation is read-only and has no effect on message delivery.
package presence

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ghosttext/ghosttext/internal/metrics"
	"github.com/ghosttext/ghosttext/internal/store"
)

// Record is the stored liveness entry for one (channel, user) pair.
type Record struct {
	Online   bool  `json:"online"`
	LastSeen int64 `json:"last_seen"` // ms since epoch
}

// Tracker registers and observes presence for one user on one channel.
type Tracker struct {
	store     store.Store
	channelID string
	user      string
	logger    zerolog.Logger
	heartbeat time.Duration
	now       func() time.Time

	mu        sync.Mutex
	stop      chan struct{}
	stoppedWg sync.WaitGroup
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the tracker logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

// WithHeartbeat refreshes the record's last-seen field on the given period.
// Stores without real disconnect hooks rely on this plus the sweeper's
// stale-presence pruning to self-heal after a crash. Zero disables it.
func WithHeartbeat(interval time.Duration) Option {
	return func(t *Tracker) { t.heartbeat = interval }
}

// WithClock injects the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a tracker for the (channelID, user) pair.
func NewTracker(st store.Store, channelID, user string, opts ...Option) *Tracker {
	t := &Tracker{
		store:     st,
		channelID: channelID,
		user:      user,
		logger:    zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) recordPath() string {
	return "presence/" + t.channelID + "/" + t.user
}

// Register writes the liveness record and arms the disconnect hook. Called
// on entering a live session.
func (t *Tracker) Register(ctx context.Context) error {
	record := Record{Online: true, LastSeen: t.now().UnixMilli()}
	if err := t.store.Set(ctx, t.recordPath(), record); err != nil {
		return err
	}
	if err := t.store.OnDisconnect(ctx, t.recordPath()); err != nil {
		return err
	}
	metrics.PresenceRegistrations.Inc()

	if t.heartbeat > 0 {
		t.mu.Lock()
		if t.stop == nil {
			t.stop = make(chan struct{})
			t.stoppedWg.Add(1)
			go t.heartbeatLoop(t.stop)
		}
		t.mu.Unlock()
	}
	return nil
}

func (t *Tracker) heartbeatLoop(stop chan struct{}) {
	defer t.stoppedWg.Done()
	ticker := time.NewTicker(t.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			record := Record{Online: true, LastSeen: t.now().UnixMilli()}
			if err := t.store.Set(ctx, t.recordPath(), record); err != nil {
				t.logger.Warn().Err(err).Msg("presence heartbeat failed")
			}
			cancel()
		}
	}
}

// Deregister deletes the record on graceful logout. Idempotent; a failed
// delete is logged, not fatal, since the disconnect hook is the backstop.
func (t *Tracker) Deregister(ctx context.Context) {
	t.mu.Lock()
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
	t.mu.Unlock()
	t.stoppedWg.Wait()

	if err := t.store.Delete(ctx, t.recordPath()); err != nil {
		t.logger.Warn().Err(err).Str("user", t.user).Msg("presence deregistration failed")
	}
}

// Observe returns the live, sorted set of online user identifiers for the
// channel. The cancel func releases the store listener.
func Observe(ctx context.Context, st store.Store, channelID string) (<-chan []string, func(), error) {
	raw, cancel, err := st.Subscribe(ctx, "presence/"+channelID)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan []string, 1)
	go func() {
		defer close(out)
		for snap := range raw {
			users := make([]string, 0, len(snap))
			for user, rawRecord := range snap {
				var record Record
				if err := json.Unmarshal(rawRecord, &record); err != nil || !record.Online {
					continue
				}
				users = append(users, user)
			}
			sort.Strings(users)

			select {
			case out <- users:
			default:
				select {
				case <-out:
				default:
				}
				out <- users
			}
		}
	}()

	return out, cancel, nil
}

// Package session binds one client to one channel: it subscribes to the
// store, decrypts the live message set, tracks the unseen watermark, and
// exposes send and clear.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ghosttext/ghosttext/internal/crypto"
	"github.com/ghosttext/ghosttext/internal/localstate"
	"github.com/ghosttext/ghosttext/internal/metrics"
	"github.com/ghosttext/ghosttext/internal/store"
)

// State is the session lifecycle position.
type State int

const (
	// Unbound: no channel attached.
	Unbound State = iota
	// Subscribing: subscription requested, no data yet.
	Subscribing
	// Live: receiving updates; send and clear are valid.
	Live
)

func (s State) String() string {
	switch s {
	case Subscribing:
		return "subscribing"
	case Live:
		return "live"
	default:
		return "unbound"
	}
}

// ErrAlreadyBound is returned when Subscribe is called on a session that
// already holds a subscription.
var ErrAlreadyBound = errors.New("session already bound to a channel")

// decryptPlaceholder is what viewers see for a message that fails
// authenticated decryption. Deliberately neutral: it must not hint whether
// the cause was a wrong key, tampering, or foreign data.
const decryptPlaceholder = "[Encryption error]"

// Message is a decrypted channel message as delivered to the viewer.
type Message struct {
	ID        string
	Text      string
	Timestamp int64 // ms since epoch
	Sender    string
	TTL       int64 // absolute ms; 0 = never expires
	Corrupted bool  // true when Text is the decrypt-failure placeholder
}

// wireMessage is the stored shape of a message. Content is the base64
// encrypted envelope; plaintext never appears here.
type wireMessage struct {
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	Sender    string `json:"sender"`
	TTL       int64  `json:"ttl,omitempty"`
}

// Session is a live binding to one channel. A session serves a single
// client; the mutex only guards against the subscription goroutine racing
// the caller.
type Session struct {
	store     store.Store
	codec     *crypto.Codec
	channelID string
	user      string
	logger    zerolog.Logger

	registry   store.Registry   // optional bookkeeping
	local      *localstate.File // optional persisted watermark
	messageTTL time.Duration    // applied to sent messages; 0 = no expiry
	now        func() time.Time

	mu       sync.Mutex
	state    State
	lastSeen int64
	newest   int64
	cancel   func()
	gen      uint64 // bumped on every bind and close; stale listeners check it
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithRegistry enables channel bookkeeping on send.
func WithRegistry(r store.Registry) Option {
	return func(s *Session) { s.registry = r }
}

// WithLocalState persists the last-seen watermark across restarts.
func WithLocalState(f *localstate.File) Option {
	return func(s *Session) { s.local = f }
}

// WithMessageTTL stamps sent messages with an absolute expiry.
func WithMessageTTL(ttl time.Duration) Option {
	return func(s *Session) { s.messageTTL = ttl }
}

// WithClock injects the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// New creates an unbound session for the channel.
func New(st store.Store, codec *crypto.Codec, channelID, user string, opts ...Option) *Session {
	s := &Session{
		store:     st,
		codec:     codec,
		channelID: channelID,
		user:      user,
		logger:    zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.local != nil {
		if persisted, err := s.local.Load(); err == nil && persisted != nil {
			s.lastSeen = persisted.LastSeen
		}
	}
	return s
}

func (s *Session) messagesPath() string {
	return "messages/" + s.channelID
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe attaches the live listener and returns a channel of ordered,
// decrypted message sets. The first delivery moves the session to Live. A
// subscription failure leaves the session Unbound and usable; the caller
// sees the error, operators see the log line.
func (s *Session) Subscribe(ctx context.Context) (<-chan []Message, error) {
	s.mu.Lock()
	if s.state != Unbound {
		s.mu.Unlock()
		return nil, ErrAlreadyBound
	}
	s.state = Subscribing
	s.mu.Unlock()

	raw, cancel, err := s.store.Subscribe(ctx, s.messagesPath())
	if err != nil {
		s.mu.Lock()
		s.state = Unbound
		s.mu.Unlock()
		s.logger.Error().Err(err).Str("channel", s.channelID).Msg("subscription failed")
		return nil, err
	}

	s.mu.Lock()
	s.cancel = cancel
	s.gen++
	gen := s.gen
	s.mu.Unlock()
	metrics.ActiveSubscriptions.Inc()

	if s.registry != nil {
		if _, err := s.registry.CreateChannel(ctx, s.channelID, s.user); err != nil {
			s.logger.Warn().Err(err).Msg("channel registration failed")
		}
	}

	out := make(chan []Message, 1)
	go func() {
		defer close(out)
		defer metrics.ActiveSubscriptions.Dec()

		for snap := range raw {
			msgs := s.decode(snap)

			// A snapshot can still be in flight when Close runs; it
			// must not land after the session has been unbound.
			s.mu.Lock()
			if s.gen != gen {
				s.mu.Unlock()
				return
			}
			s.state = Live
			if n := len(msgs); n > 0 {
				s.newest = msgs[n-1].Timestamp
			}
			s.mu.Unlock()

			select {
			case out <- msgs:
			default:
				// Coalesce: the consumer only ever needs the latest set.
				select {
				case <-out:
				default:
				}
				out <- msgs
			}
		}
	}()

	return out, nil
}

// decode turns a raw snapshot into the ordered, decrypted message list.
// Ordering is timestamp ascending, ties broken by store key order. Messages
// that fail decryption become placeholders rather than errors: a corrupted
// message must never take the session down.
func (s *Session) decode(snap store.Snapshot) []Message {
	msgs := make([]Message, 0, len(snap))
	for key, raw := range snap {
		var wire wireMessage
		if err := json.Unmarshal(raw, &wire); err != nil {
			s.logger.Warn().Str("key", key).Msg("skipping malformed message record")
			continue
		}

		text, err := s.codec.Decrypt(wire.Content)
		corrupted := false
		if err != nil {
			text = decryptPlaceholder
			corrupted = true
			metrics.DecryptFailures.Inc()
		}

		msgs = append(msgs, Message{
			ID:        key,
			Text:      text,
			Timestamp: wire.Timestamp,
			Sender:    wire.Sender,
			TTL:       wire.TTL,
			Corrupted: corrupted,
		})
	}

	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].Timestamp != msgs[j].Timestamp {
			return msgs[i].Timestamp < msgs[j].Timestamp
		}
		return msgs[i].ID < msgs[j].ID
	})
	return msgs
}

// Send encrypts plaintext and appends it to the channel. Returns false on
// any failure; callers surface non-fatal feedback and may retry by hand.
// Sending advances the watermark: a sender has seen up to their own message.
func (s *Session) Send(ctx context.Context, plaintext string) bool {
	s.mu.Lock()
	if s.state != Live {
		s.mu.Unlock()
		s.logger.Warn().Stringer("state", s.state).Msg("send outside live session")
		return false
	}
	s.mu.Unlock()

	envelope, err := s.codec.Encrypt(plaintext)
	if err != nil {
		s.logger.Error().Err(err).Msg("message encryption failed")
		metrics.SendFailures.Inc()
		return false
	}

	ts := s.now().UnixMilli()
	wire := wireMessage{
		Content:   envelope,
		Timestamp: ts,
		Sender:    s.user,
	}
	if s.messageTTL > 0 {
		wire.TTL = ts + s.messageTTL.Milliseconds()
	}

	if _, err := s.store.Push(ctx, s.messagesPath(), wire); err != nil {
		s.logger.Error().Err(err).Str("channel", s.channelID).Msg("store write failed")
		metrics.SendFailures.Inc()
		return false
	}

	s.advanceWatermark(ts)
	metrics.MessagesSent.Inc()

	if s.registry != nil {
		if err := s.registry.IncrementMessageCount(ctx, s.channelID); err != nil {
			s.logger.Warn().Err(err).Msg("registry bookkeeping failed")
		}
	}
	return true
}

// MarkSeen advances the watermark to the newest received message.
func (s *Session) MarkSeen() {
	s.mu.Lock()
	newest := s.newest
	s.mu.Unlock()
	s.advanceWatermark(newest)
}

func (s *Session) advanceWatermark(ts int64) {
	s.mu.Lock()
	if ts <= s.lastSeen {
		s.mu.Unlock()
		return
	}
	s.lastSeen = ts
	if ts > s.newest {
		s.newest = ts
	}
	s.mu.Unlock()

	if s.local != nil {
		if err := s.local.SetLastSeen(ts); err != nil {
			s.logger.Warn().Err(err).Msg("failed to persist watermark")
		}
	}
}

// HasUnseen reports whether the newest received message is past the
// watermark. Computed from data actually received, never assumed
// synchronized across a user's devices.
func (s *Session) HasUnseen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newest > s.lastSeen
}

// LastSeen returns the current watermark.
func (s *Session) LastSeen() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Clear deletes every message in the channel in one atomic store operation.
// Destructive and irreversible; the caller is responsible for confirming.
func (s *Session) Clear(ctx context.Context) bool {
	s.mu.Lock()
	if s.state != Live {
		s.mu.Unlock()
		s.logger.Warn().Stringer("state", s.state).Msg("clear outside live session")
		return false
	}
	s.mu.Unlock()

	if err := s.store.Delete(ctx, s.messagesPath()); err != nil {
		s.logger.Error().Err(err).Str("channel", s.channelID).Msg("channel clear failed")
		return false
	}
	s.logger.Info().Str("channel", s.channelID).Msg("channel cleared")

	if s.registry != nil {
		if err := s.registry.TouchActivity(ctx, s.channelID); err != nil {
			s.logger.Warn().Err(err).Msg("registry bookkeeping failed")
		}
	}
	return true
}

// Close releases the store listener and returns the session to Unbound.
// No snapshot lands in application state after Close returns.
func (s *Session) Close() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.state = Unbound
	s.gen++
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

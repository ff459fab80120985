package store

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ghosttext/ghosttext/internal/metrics"
)

// RedisStore backs the Store interface with Redis. Each path is a hash
// (child key -> JSON value) and every mutation publishes on a per-path
// pub/sub channel, which is what drives live subscriptions. A whole-channel
// clear is a single DEL, so it is atomic from the store's perspective.
//
// Redis has no server-enforced disconnect hooks, so OnDisconnect paths are
// tracked per connection and deleted on Close; crash recovery is handled by
// the presence heartbeat plus the sweeper pruning stale records.
type RedisStore struct {
	client *redis.Client

	hooksMu sync.Mutex
	hooks   []string
}

const redisKeyPrefix = "gt:"

// NewRedisStore connects to Redis using a redis:// URL.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

func pathKey(path string) string {
	return redisKeyPrefix + path
}

func notifyChannel(path string) string {
	return redisKeyPrefix + "notify:" + path
}

func observe(start time.Time) {
	metrics.RedisLatency.Observe(time.Since(start).Seconds())
}

// Subscribe attaches a pub/sub listener for path and delivers the current
// snapshot immediately, then a fresh snapshot after every published change.
func (s *RedisStore) Subscribe(ctx context.Context, path string) (<-chan Snapshot, func(), error) {
	pubsub := s.client.Subscribe(ctx, notifyChannel(path))
	// Force the subscription onto the wire before the initial read so no
	// change between snapshot and subscribe is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, err
	}

	initial, err := s.List(ctx, path)
	if err != nil {
		pubsub.Close()
		return nil, nil, err
	}

	out := make(chan Snapshot, 1)
	stop := make(chan struct{})

	go func() {
		defer close(out)

		// Coalesce for a slow consumer: replace the stale buffered
		// snapshot with the latest one.
		deliver := func(snap Snapshot) bool {
			for {
				select {
				case out <- snap:
					return true
				case <-stop:
					return false
				case <-ctx.Done():
					return false
				default:
				}
				select {
				case <-out:
				default:
				}
			}
		}

		if !deliver(initial) {
			return
		}

		notify := pubsub.Channel()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case _, ok := <-notify:
				if !ok {
					return
				}
				snap, err := s.List(ctx, path)
				if err != nil {
					continue
				}
				if !deliver(snap) {
					return
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(stop)
			pubsub.Close()
		})
	}
	return out, cancel, nil
}

func (s *RedisStore) publish(ctx context.Context, path string) {
	s.client.Publish(ctx, notifyChannel(path), "1")
}

// Push creates a child of path under a fresh ULID key.
func (s *RedisStore) Push(ctx context.Context, path string, value any) (string, error) {
	defer observe(time.Now())

	raw, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	key := ulid.Make().String()
	if err := s.client.HSet(ctx, pathKey(path), key, string(raw)).Err(); err != nil {
		return "", err
	}
	s.publish(ctx, path)
	return key, nil
}

// Set writes value at path (parent/key).
func (s *RedisStore) Set(ctx context.Context, path string, value any) error {
	defer observe(time.Now())

	parent, key := splitPath(path)
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, pathKey(parent), key, string(raw)).Err(); err != nil {
		return err
	}
	s.publish(ctx, parent)
	return nil
}

// Delete removes a subtree (one DEL, atomic) or a single leaf.
func (s *RedisStore) Delete(ctx context.Context, path string) error {
	defer observe(time.Now())

	deleted, err := s.client.Del(ctx, pathKey(path)).Result()
	if err != nil {
		return err
	}
	if deleted > 0 {
		s.publish(ctx, path)
		return nil
	}

	parent, key := splitPath(path)
	removed, err := s.client.HDel(ctx, pathKey(parent), key).Result()
	if err != nil {
		return err
	}
	if removed > 0 {
		s.publish(ctx, parent)
	}
	return nil
}

// List returns the current snapshot at path.
func (s *RedisStore) List(ctx context.Context, path string) (Snapshot, error) {
	defer observe(time.Now())

	entries, err := s.client.HGetAll(ctx, pathKey(path)).Result()
	if err != nil {
		return nil, err
	}
	snap := make(Snapshot, len(entries))
	for k, v := range entries {
		snap[k] = json.RawMessage(v)
	}
	return snap, nil
}

// Children scans for populated child segments directly under path.
func (s *RedisStore) Children(ctx context.Context, path string) ([]string, error) {
	defer observe(time.Now())

	prefix := pathKey(path) + "/"
	var children []string
	iter := s.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		rest := strings.TrimPrefix(iter.Val(), prefix)
		if !strings.Contains(rest, "/") {
			children = append(children, rest)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return children, nil
}

// OnDisconnect registers path for deletion when this connection closes.
func (s *RedisStore) OnDisconnect(ctx context.Context, path string) error {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.hooks = append(s.hooks, path)
	return nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close runs disconnect cleanups and closes the connection.
func (s *RedisStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.hooksMu.Lock()
	hooks := s.hooks
	s.hooks = nil
	s.hooksMu.Unlock()

	for _, path := range hooks {
		_ = s.Delete(ctx, path)
	}
	return s.client.Close()
}

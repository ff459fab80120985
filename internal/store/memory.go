package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
)

// MemoryStore is an in-process Store used in tests and local development.
// It implements the full contract including disconnect hooks, which makes
// presence self-healing testable without a real store: CloseAbrupt
// simulates a crashed client whose cleanup the server still runs.
type MemoryStore struct {
	mu     sync.Mutex
	data   map[string]map[string]json.RawMessage
	subs   map[string][]*memorySub
	hooks  []string
	closed bool
}

type memorySub struct {
	ch chan Snapshot
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]map[string]json.RawMessage),
		subs: make(map[string][]*memorySub),
	}
}

func (s *MemoryStore) snapshotLocked(path string) Snapshot {
	snap := make(Snapshot, len(s.data[path]))
	for k, v := range s.data[path] {
		snap[k] = v
	}
	return snap
}

// notifyLocked delivers the current snapshot at path to every subscriber.
// Each subscriber channel is buffered with capacity 1 and stale snapshots
// are coalesced: a slow consumer always sees the latest state next.
func (s *MemoryStore) notifyLocked(path string) {
	subs := s.subs[path]
	if len(subs) == 0 {
		return
	}
	snap := s.snapshotLocked(path)
	for _, sub := range subs {
		select {
		case sub.ch <- snap:
		default:
			select {
			case <-sub.ch:
			default:
			}
			sub.ch <- snap
		}
	}
}

// Subscribe delivers the current snapshot immediately, then after every
// change under path.
func (s *MemoryStore) Subscribe(ctx context.Context, path string) (<-chan Snapshot, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, context.Canceled
	}

	sub := &memorySub{ch: make(chan Snapshot, 1)}
	s.subs[path] = append(s.subs[path], sub)
	sub.ch <- s.snapshotLocked(path)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			list := s.subs[path]
			for i, candidate := range list {
				if candidate == sub {
					s.subs[path] = append(list[:i], list[i+1:]...)
					break
				}
			}
			close(sub.ch)
		})
	}
	return sub.ch, cancel, nil
}

// Push creates a child of path under a fresh ULID key.
func (s *MemoryStore) Push(ctx context.Context, path string, value any) (string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", context.Canceled
	}
	key := ulid.Make().String()
	if s.data[path] == nil {
		s.data[path] = make(map[string]json.RawMessage)
	}
	s.data[path][key] = raw
	s.notifyLocked(path)
	return key, nil
}

// Set writes value at path, where the last segment is the child key.
func (s *MemoryStore) Set(ctx context.Context, path string, value any) error {
	parent, key := splitPath(path)
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return context.Canceled
	}
	if s.data[parent] == nil {
		s.data[parent] = make(map[string]json.RawMessage)
	}
	s.data[parent][key] = raw
	s.notifyLocked(parent)
	return nil
}

// Delete removes the subtree at path, or the single leaf if path names a
// child key. Missing paths are a no-op.
func (s *MemoryStore) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(path)
	return nil
}

func (s *MemoryStore) deleteLocked(path string) {
	if _, ok := s.data[path]; ok {
		delete(s.data, path)
		s.notifyLocked(path)
		return
	}
	parent, key := splitPath(path)
	if children, ok := s.data[parent]; ok {
		if _, ok := children[key]; ok {
			delete(children, key)
			s.notifyLocked(parent)
		}
	}
}

// List returns the snapshot at path.
func (s *MemoryStore) List(ctx context.Context, path string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(path), nil
}

// Children lists the populated child segments directly under path.
func (s *MemoryStore) Children(ctx context.Context, path string) ([]string, error) {
	prefix := path + "/"

	s.mu.Lock()
	defer s.mu.Unlock()
	var children []string
	for p, m := range s.data {
		if len(m) == 0 || !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		if !strings.Contains(rest, "/") {
			children = append(children, rest)
		}
	}
	sort.Strings(children)
	return children, nil
}

// OnDisconnect registers path for deletion when this store closes, however
// it closes.
func (s *MemoryStore) OnDisconnect(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, path)
	return nil
}

// Ping reports whether the store is usable.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return context.Canceled
	}
	return nil
}

// Close runs disconnect cleanups and shuts the store down gracefully.
func (s *MemoryStore) Close() error {
	s.shutdown()
	return nil
}

// CloseAbrupt simulates a crashed connection: no client-side teardown runs,
// but the server-enforced disconnect hooks still fire.
func (s *MemoryStore) CloseAbrupt() {
	s.shutdown()
}

func (s *MemoryStore) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for _, path := range s.hooks {
		s.deleteLocked(path)
	}
	s.hooks = nil
	s.closed = true
	for _, subs := range s.subs {
		for _, sub := range subs {
			close(sub.ch)
		}
	}
	s.subs = make(map[string][]*memorySub)
}

// splitPath separates a path into its parent and final segment.
func splitPath(path string) (parent, key string) {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}

// Package localstate persists client-held session state: the session key,
// derived channel ID, user identifier, and the last-seen watermark. This is
// the only place credential material touches disk, and only on the client's
// own machine. Logout wipes the file.
package localstate

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

// State is the persisted client session.
type State struct {
	SessionKey     string `json:"session_key"`
	ChannelID      string `json:"channel_id"`
	UserIdentifier string `json:"user"`
	LastSeen       int64  `json:"last_seen"` // ms since epoch
}

// File stores a State as a 0600 JSON file.
type File struct {
	path string
}

// DefaultDir returns the default config directory, honoring GHOSTTEXT_CONFIG.
func DefaultDir() string {
	if dir := os.Getenv("GHOSTTEXT_CONFIG"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".ghosttext")
}

// NewFile returns a state file rooted at dir (DefaultDir if empty).
func NewFile(dir string) *File {
	if dir == "" {
		dir = DefaultDir()
	}
	return &File{path: filepath.Join(dir, "session.json")}
}

// Load reads the persisted state. A missing file returns (nil, nil): no
// session is not an error.
func (f *File) Load() (*State, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Save writes the state with owner-only permissions.
func (f *File) Save(st *State) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, data, 0600)
}

// SetLastSeen updates only the watermark, preserving the rest of the state.
func (f *File) SetLastSeen(ts int64) error {
	st, err := f.Load()
	if err != nil {
		return err
	}
	if st == nil {
		return nil
	}
	st.LastSeen = ts
	return f.Save(st)
}

// Clear removes the persisted session entirely.
func (f *File) Clear() error {
	err := os.Remove(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

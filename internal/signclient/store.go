package signclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const storeFormatVersion = 1

// snapshot is the on-disk shape of the client registries.
type snapshot struct {
	Version  int               `json:"v"`
	Pairings []Pairing         `json:"pairings"`
	Sessions []Session         `json:"sessions"`
	Keys     map[string]string `json:"keys"`
}

// Store persists client registries to a single JSON file. An empty path
// keeps everything in memory.
type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: strings.TrimSpace(path)}
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) load() (snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := snapshot{Version: storeFormatVersion, Keys: map[string]string{}}
	if s.path == "" {
		return snap, nil
	}
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return snap, nil
	}
	if err != nil {
		return snapshot{}, err
	}
	if err := json.Unmarshal(b, &snap); err != nil {
		return snapshot{}, fmt.Errorf("signclient: parse store %s: %w", s.path, err)
	}
	if snap.Version > storeFormatVersion {
		return snapshot{}, fmt.Errorf("signclient: unsupported store version %d", snap.Version)
	}
	if snap.Keys == nil {
		snap.Keys = map[string]string{}
	}
	return snap, nil
}

// save writes via a temp file then rename.
func (s *Store) save(snap snapshot) error {
	if s.path == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap.Version = storeFormatVersion
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Chmod(0o600); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

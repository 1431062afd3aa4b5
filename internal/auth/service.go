// Package auth guards the hub API with per-user access keys. Keys live in
// users.json in the config directory and are reloaded when the file changes.
// Without any key configured the hub runs in open mode.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	usersFileName = "users.json"
	reloadDelay   = 100 * time.Millisecond
)

// User is a single entry of users.json, keyed by user name.
type User struct {
	AccessKey        string `json:"access_key"`
	AccessKeyUpdated string `json:"access_key_updated,omitempty"`
	Admin            bool   `json:"admin,omitempty"`
}

// keyEntry is a user with a configured key. Keys are kept as digests so
// every comparison runs over the same length.
type keyEntry struct {
	name   string
	digest [sha256.Size]byte
}

// Service resolves access keys to users.
type Service struct {
	path string

	mu   sync.RWMutex
	keys []keyEntry // sorted by name

	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
}

// NewService loads users.json from configDir and watches it. An empty
// configDir gives a service that stays in open mode.
func NewService(configDir string) (*Service, error) {
	s := &Service{done: make(chan struct{})}
	if configDir == "" {
		return s, nil
	}
	s.path = filepath.Join(configDir, usersFileName)
	if err := s.Reload(); err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("auth: users.json will not be watched", "err", err)
		return s, nil
	}
	if err := w.Add(configDir); err != nil {
		slog.Warn("auth: users.json will not be watched", "dir", configDir, "err", err)
		w.Close()
		return s, nil
	}
	s.watcher = w
	go s.watch()
	return s, nil
}

// Reload re-reads users.json. A missing file clears every key. On a parse
// error the previous keys stay in effect.
func (s *Service) Reload() error {
	if s.path == "" {
		return nil
	}
	users, err := readUsers(s.path)
	if err != nil {
		return err
	}

	keys := make([]keyEntry, 0, len(users))
	for name, u := range users {
		if u.AccessKey == "" {
			continue
		}
		keys = append(keys, keyEntry{name: name, digest: sha256.Sum256([]byte(u.AccessKey))})
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].name < keys[j].name })

	s.mu.Lock()
	s.keys = keys
	s.mu.Unlock()
	slog.Debug("auth: users loaded", "users", len(users), "keys", len(keys))
	return nil
}

func readUsers(path string) (map[string]User, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var users map[string]User
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return users, nil
}

// IsOpenMode reports whether no user has an access key.
func (s *Service) IsOpenMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys) == 0
}

// Lookup returns the name of the user owning key. All keys are compared
// so the time taken does not depend on which one matches. When two users
// share a key the first name in sort order wins.
func (s *Service) Lookup(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	digest := sha256.Sum256([]byte(key))

	s.mu.RLock()
	defer s.mu.RUnlock()
	found := -1
	for i := range s.keys {
		eq := subtle.ConstantTimeCompare(digest[:], s.keys[i].digest[:])
		if eq == 1 && found < 0 {
			found = i
		}
	}
	if found < 0 {
		return "", false
	}
	return s.keys[found].name, true
}

// Close stops watching users.json.
func (s *Service) Close() {
	s.once.Do(func() {
		close(s.done)
		if s.watcher != nil {
			s.watcher.Close()
		}
	})
}

// watch reloads users.json once its events settle. Editors tend to write
// a file in several steps.
func (s *Service) watch() {
	var pending <-chan time.Time
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != s.path || ev.Op == fsnotify.Chmod {
				continue
			}
			pending = time.After(reloadDelay)
		case <-pending:
			pending = nil
			if err := s.Reload(); err != nil {
				slog.Warn("auth: keeping previous users", "err", err)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("auth: watcher error", "err", err)
		}
	}
}

// Package store persists conversation threads. Two backends implement
// types.ThreadStore: a JSON-file store with one document per thread,
// and a pebble-backed store for larger mailboxes.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xseries/mailclerk/internal/types"
)

// FileStore is a JSON-file-backed thread store. Each thread lives in
// threads/<id>.json under the root directory and is rewritten
// atomically on every mutation.
type FileStore struct {
	root string
	mu   sync.RWMutex
}

// NewFileStore creates a file-backed thread store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, "threads"), 0o755); err != nil {
		return nil, fmt.Errorf("create threads dir: %w", err)
	}
	return &FileStore{root: dir}, nil
}

func (s *FileStore) threadsDir() string {
	return filepath.Join(s.root, "threads")
}

func (s *FileStore) threadPath(id types.ThreadID) string {
	return filepath.Join(s.threadsDir(), sanitizeID(id)+".json")
}

// sanitizeID maps a thread id onto a safe file name.
func sanitizeID(id types.ThreadID) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '_' || r == '-':
			return r
		}
		return '_'
	}, string(id))
}

// load reads a thread document, returning nil if it does not exist.
func (s *FileStore) load(id types.ThreadID) (*types.Thread, error) {
	data, err := os.ReadFile(s.threadPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read thread %s: %w", id, err)
	}
	var th types.Thread
	if err := json.Unmarshal(data, &th); err != nil {
		return nil, fmt.Errorf("unmarshal thread %s: %w", id, err)
	}
	return &th, nil
}

// save marshals with indentation and writes atomically via temp+rename.
func (s *FileStore) save(th *types.Thread) error {
	data, err := json.MarshalIndent(th, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal thread %s: %w", th.ThreadID, err)
	}
	path := s.threadPath(th.ThreadID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp thread: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp thread: %w", err)
	}
	return nil
}

// newThread builds an empty document for first use.
func newThread(id types.ThreadID, userEmail string) *types.Thread {
	now := time.Now().UTC()
	return &types.Thread{
		UserEmail:   userEmail,
		ThreadID:    id,
		Chat:        []types.Message{},
		Metadata:    map[string]any{},
		CreatedAt:   now,
		LastUpdated: now,
	}
}

// Append adds a message to the thread's chat log, creating the thread
// on first use.
func (s *FileStore) Append(_ context.Context, id types.ThreadID, userEmail string, msg types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	th, err := s.load(id)
	if err != nil {
		return err
	}
	if th == nil {
		th = newThread(id, userEmail)
	}
	// A metadata write may have created the document before the first
	// append; claim it for the user now.
	if th.UserEmail == "" {
		th.UserEmail = userEmail
	}
	th.Chat = append(th.Chat, msg)
	th.LastUpdated = time.Now().UTC()
	return s.save(th)
}

// Messages returns the thread's chat log, oldest first.
func (s *FileStore) Messages(_ context.Context, id types.ThreadID) ([]types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	th, err := s.load(id)
	if err != nil {
		return nil, err
	}
	if th == nil {
		return []types.Message{}, nil
	}
	return th.Chat, nil
}

// SetMetadataField updates exactly one metadata field, creating the
// thread if needed. Sibling fields are untouched.
func (s *FileStore) SetMetadataField(_ context.Context, id types.ThreadID, field string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	th, err := s.load(id)
	if err != nil {
		return err
	}
	if th == nil {
		th = newThread(id, "")
	}
	if th.Metadata == nil {
		th.Metadata = map[string]any{}
	}
	th.Metadata[field] = value
	th.LastUpdated = time.Now().UTC()
	return s.save(th)
}

// Metadata returns the thread's metadata map, empty if absent.
func (s *FileStore) Metadata(_ context.Context, id types.ThreadID) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	th, err := s.load(id)
	if err != nil {
		return nil, err
	}
	if th == nil || th.Metadata == nil {
		return map[string]any{}, nil
	}
	return th.Metadata, nil
}

// Clear empties the chat log in place, preserving metadata. Clearing a
// missing thread is a no-op.
func (s *FileStore) Clear(_ context.Context, id types.ThreadID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	th, err := s.load(id)
	if err != nil {
		return err
	}
	if th == nil {
		return nil
	}
	th.Chat = []types.Message{}
	th.LastUpdated = time.Now().UTC()
	return s.save(th)
}

// List returns all threads for a user, most recently updated first. An
// empty userEmail matches every thread.
func (s *FileStore) List(_ context.Context, userEmail string) ([]*types.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.threadsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read threads dir: %w", err)
	}

	var threads []*types.Thread
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.threadsDir(), e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read thread file %s: %w", e.Name(), err)
		}
		var th types.Thread
		if err := json.Unmarshal(data, &th); err != nil {
			return nil, fmt.Errorf("unmarshal thread file %s: %w", e.Name(), err)
		}
		if userEmail != "" && th.UserEmail != userEmail {
			continue
		}
		threads = append(threads, &th)
	}

	sort.Slice(threads, func(i, j int) bool {
		return threads[i].LastUpdated.After(threads[j].LastUpdated)
	})
	return threads, nil
}

// Get returns the full thread document, or nil if absent.
func (s *FileStore) Get(_ context.Context, id types.ThreadID) (*types.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load(id)
}

// Close is a no-op for the file backend.
func (s *FileStore) Close() error { return nil }

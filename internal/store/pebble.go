package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/xseries/mailclerk/internal/types"
)

const threadKeyPrefix = "thread/"

// PebbleStore is a pebble-backed thread store. Each thread document is
// stored as JSON under thread/<id>.
type PebbleStore struct {
	db *pebble.DB
	mu sync.Mutex
}

// NewPebbleStore opens (or creates) a pebble database at path.
func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble db: %w", err)
	}
	return &PebbleStore{db: db}, nil
}

func threadKey(id types.ThreadID) []byte {
	return []byte(threadKeyPrefix + string(id))
}

// get reads a thread document, returning nil if absent.
func (s *PebbleStore) get(id types.ThreadID) (*types.Thread, error) {
	data, closer, err := s.db.Get(threadKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get thread %s: %w", id, err)
	}
	defer closer.Close()

	var th types.Thread
	if err := json.Unmarshal(data, &th); err != nil {
		return nil, fmt.Errorf("unmarshal thread %s: %w", id, err)
	}
	return &th, nil
}

func (s *PebbleStore) put(th *types.Thread) error {
	data, err := json.Marshal(th)
	if err != nil {
		return fmt.Errorf("marshal thread %s: %w", th.ThreadID, err)
	}
	if err := s.db.Set(threadKey(th.ThreadID), data, pebble.Sync); err != nil {
		return fmt.Errorf("set thread %s: %w", th.ThreadID, err)
	}
	return nil
}

// Append adds a message to the thread's chat log, creating the thread
// on first use.
func (s *PebbleStore) Append(_ context.Context, id types.ThreadID, userEmail string, msg types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	th, err := s.get(id)
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
	return s.put(th)
}

// Messages returns the thread's chat log, oldest first.
func (s *PebbleStore) Messages(_ context.Context, id types.ThreadID) ([]types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	th, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if th == nil {
		return []types.Message{}, nil
	}
	return th.Chat, nil
}

// SetMetadataField updates exactly one metadata field, creating the
// thread if needed.
func (s *PebbleStore) SetMetadataField(_ context.Context, id types.ThreadID, field string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	th, err := s.get(id)
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
	return s.put(th)
}

// Metadata returns the thread's metadata map, empty if absent.
func (s *PebbleStore) Metadata(_ context.Context, id types.ThreadID) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	th, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if th == nil || th.Metadata == nil {
		return map[string]any{}, nil
	}
	return th.Metadata, nil
}

// Clear empties the chat log in place, preserving metadata.
func (s *PebbleStore) Clear(_ context.Context, id types.ThreadID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	th, err := s.get(id)
	if err != nil {
		return err
	}
	if th == nil {
		return nil
	}
	th.Chat = []types.Message{}
	th.LastUpdated = time.Now().UTC()
	return s.put(th)
}

// List returns all threads for a user, most recently updated first.
func (s *PebbleStore) List(_ context.Context, userEmail string) ([]*types.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(threadKeyPrefix),
		UpperBound: []byte(threadKeyPrefix + "\xff"),
	})
	if err != nil {
		return nil, fmt.Errorf("iterate threads: %w", err)
	}
	defer iter.Close()

	var threads []*types.Thread
	for iter.First(); iter.Valid(); iter.Next() {
		var th types.Thread
		if err := json.Unmarshal(iter.Value(), &th); err != nil {
			return nil, fmt.Errorf("unmarshal thread %s: %w", iter.Key(), err)
		}
		if userEmail != "" && th.UserEmail != userEmail {
			continue
		}
		threads = append(threads, &th)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate threads: %w", err)
	}

	sort.Slice(threads, func(i, j int) bool {
		return threads[i].LastUpdated.After(threads[j].LastUpdated)
	})
	return threads, nil
}

// Get returns the full thread document, or nil if absent.
func (s *PebbleStore) Get(_ context.Context, id types.ThreadID) (*types.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(id)
}

// Close closes the underlying database.
func (s *PebbleStore) Close() error {
	return s.db.Close()
}

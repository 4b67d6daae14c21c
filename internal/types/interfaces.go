package types

import "context"

// ThreadStore persists conversation threads: an append-only chat log plus
// a mutable metadata map per thread id.
//
// Failure semantics: storage errors propagate to the caller; the store
// performs no internal retries.
type ThreadStore interface {
	// Append adds a message to the thread's chat log, creating the thread
	// on first use. Concurrent appends to the same thread must not lose
	// messages.
	Append(ctx context.Context, id ThreadID, userEmail string, msg Message) error

	// Messages returns the thread's chat log, oldest first. A missing
	// thread yields an empty slice, not an error.
	Messages(ctx context.Context, id ThreadID) ([]Message, error)

	// SetMetadataField upserts the thread if absent and updates exactly
	// one metadata field, touching last_updated, without disturbing
	// sibling fields.
	SetMetadataField(ctx context.Context, id ThreadID, field string, value any) error

	// Metadata returns the thread's metadata map; empty map if absent.
	Metadata(ctx context.Context, id ThreadID) (map[string]any, error)

	// Clear empties the chat log in place, preserving identity and
	// metadata.
	Clear(ctx context.Context, id ThreadID) error

	// List returns all threads for a user, most recently updated first.
	List(ctx context.Context, userEmail string) ([]*Thread, error)

	// Get returns the full thread document, or nil if absent.
	Get(ctx context.Context, id ThreadID) (*Thread, error)

	// Close releases any resources held by the store.
	Close() error
}

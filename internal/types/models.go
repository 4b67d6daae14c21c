package types

import "time"

// Role identifies the author of a message within a thread.
type Role string

const (
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the fixed role values.
func (r Role) Valid() bool {
	switch r {
	case RoleHuman, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message is one turn in a conversation thread.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Thread is the persisted document for one support conversation.
// The chat log is strictly append-only; metadata fields are updated
// independently (last-writer-wins per field, never per document).
type Thread struct {
	UserEmail   string         `json:"user_email"`
	ThreadID    ThreadID       `json:"thread_id"`
	Chat        []Message      `json:"chat"`
	Metadata    map[string]any `json:"metadata"`
	CreatedAt   time.Time      `json:"created_at"`
	LastUpdated time.Time      `json:"last_updated"`
}

// AttachmentRef points at a screenshot stored with the file service.
// Owned by the thread's metadata under MetaScreenshotLinks.
type AttachmentRef struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Metadata field names written by the dispatcher and orchestrator.
const (
	MetaSubject          = "subject"
	MetaSenderName       = "sender_name"
	MetaStatus           = "status"
	MetaLastResponse     = "last_response"
	MetaLastResponseTime = "last_response_time"
	MetaScreenshotLinks  = "screenshot_links"
)

// Thread status values recorded under MetaStatus.
const (
	StatusInProgress   = "In Progress"
	StatusResponded    = "Responded"
	StatusIgnored      = "Ignored"
	StatusLimitReached = "Limit Reached"
)

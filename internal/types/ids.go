package types

import (
	"fmt"

	"github.com/google/uuid"
)

// ThreadID is the stable identifier for a conversation thread. For mail
// threads it is the transport's thread grouping id; for console sessions
// it is generated.
type ThreadID string

// MessageID is the transport-level identifier of a single email.
type MessageID string

// NewConsoleThreadID generates a thread id for an interactive console
// conversation.
func NewConsoleThreadID() ThreadID {
	return ThreadID(fmt.Sprintf("console_%s", uuid.New().String()))
}

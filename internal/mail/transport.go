// Package mail defines the transport boundary between the dispatcher
// and a mailbox provider, plus retry classification for the flaky
// network paths email traffic tends to hit.
package mail

import (
	"context"
	"time"

	"github.com/xseries/mailclerk/internal/types"
)

// InboundEmail is one unread message pulled from the mailbox.
type InboundEmail struct {
	MessageID    types.MessageID
	ThreadID     types.ThreadID
	From         string // raw From header, may include a display name
	Subject      string
	Body         string
	Received     time.Time
	RFCMessageID string // Message-ID header, for reply threading
	References   string // References header chain
	Attachments  []Attachment
}

// OutboundEmail is a reply to be sent on an existing thread.
type OutboundEmail struct {
	To          string
	Subject     string
	Body        string
	ThreadID    types.ThreadID
	InReplyTo   string
	References  string
	Attachments []Attachment
}

// Attachment carries file content in either direction.
type Attachment struct {
	Filename string
	MIMEType string
	Data     []byte
}

// Transport is the mailbox provider boundary.
type Transport interface {
	// Profile returns the address of the mailbox being watched.
	Profile(ctx context.Context) (string, error)

	// FetchUnreadSince returns unread messages received after the
	// watermark, oldest first.
	FetchUnreadSince(ctx context.Context, since time.Time) ([]*InboundEmail, error)

	// Send delivers an outbound reply and returns the provider's id
	// for the sent message.
	Send(ctx context.Context, out *OutboundEmail) (types.MessageID, error)

	// MarkRead removes the unread marker from a message.
	MarkRead(ctx context.Context, id types.MessageID) error
}

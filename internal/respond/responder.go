// Package respond turns agent replies into outbound emails: subject
// prefixing, reply threading headers, certificate and reference-image
// attachments, and retried delivery.
package respond

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xseries/mailclerk/internal/mail"
	"github.com/xseries/mailclerk/internal/types"
)

// Responder sends agent replies back onto the originating email
// thread.
type Responder struct {
	transport mail.Transport
	retry     *mail.RetryPolicy
	outboxDir string // certificate PDFs awaiting delivery
	imagesDir string // static order-id reference screenshots
	logger    *slog.Logger
}

// Config collects the responder's dependencies. OutboxDir and
// ImagesDir may be empty to disable the corresponding attachments.
type Config struct {
	Transport mail.Transport
	Retry     *mail.RetryPolicy
	OutboxDir string
	ImagesDir string
	Logger    *slog.Logger
}

// New creates a Responder.
func New(cfg Config) *Responder {
	retry := cfg.Retry
	if retry == nil {
		retry = mail.DefaultRetryPolicy()
	}
	return &Responder{
		transport: cfg.Transport,
		retry:     retry,
		outboxDir: cfg.OutboxDir,
		imagesDir: cfg.ImagesDir,
		logger:    cfg.Logger,
	}
}

// Reply sends body as a threaded reply to the inbound email. Pending
// certificates from the outbox are attached and removed once the send
// succeeds; reference images ride along when the reply asks the user
// for their order id.
func (r *Responder) Reply(ctx context.Context, in *mail.InboundEmail, body string) (types.MessageID, error) {
	out := &mail.OutboundEmail{
		To:         in.From,
		Subject:    replySubject(in.Subject),
		Body:       body,
		ThreadID:   in.ThreadID,
		InReplyTo:  in.RFCMessageID,
		References: joinReferences(in.References, in.RFCMessageID),
	}

	if asksForOrderID(body) {
		out.Attachments = append(out.Attachments, r.referenceImages()...)
	}

	certs, certFiles := r.pendingCertificates()
	out.Attachments = append(out.Attachments, certs...)

	var sentID types.MessageID
	err := r.retry.Execute(func() error {
		id, sendErr := r.transport.Send(ctx, out)
		if sendErr != nil {
			return sendErr
		}
		sentID = id
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("send reply on thread %s: %w", in.ThreadID, err)
	}

	// Certificates are single-delivery: once sent, clear the outbox so
	// the next reply does not re-attach them.
	for _, path := range certFiles {
		if rmErr := os.Remove(path); rmErr != nil {
			r.logger.Warn("certificate cleanup failed", "file", path, "error", rmErr)
		}
	}

	r.logger.Info("reply sent",
		"thread_id", in.ThreadID, "to", out.To, "attachments", len(out.Attachments))
	return sentID, nil
}

// pendingCertificates loads every PDF waiting in the outbox, oldest
// first, and returns the file paths for post-send cleanup.
func (r *Responder) pendingCertificates() ([]mail.Attachment, []string) {
	if r.outboxDir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(r.outboxDir)
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.Warn("outbox scan failed", "dir", r.outboxDir, "error", err)
		}
		return nil, nil
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".pdf") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var (
		attachments []mail.Attachment
		paths       []string
	)
	for _, name := range names {
		path := filepath.Join(r.outboxDir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			r.logger.Warn("certificate read failed", "file", path, "error", err)
			continue
		}
		attachments = append(attachments, mail.Attachment{
			Filename: name,
			MIMEType: "application/pdf",
			Data:     data,
		})
		paths = append(paths, path)
	}
	return attachments, paths
}

// referenceImages loads the static screenshots that show users where
// to find their order id.
func (r *Responder) referenceImages() []mail.Attachment {
	if r.imagesDir == "" {
		return nil
	}
	var attachments []mail.Attachment
	for _, name := range []string{"Android_receipt.png", "ios_receipt.png"} {
		path := filepath.Join(r.imagesDir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			r.logger.Warn("reference image missing", "file", path, "error", err)
			continue
		}
		attachments = append(attachments, mail.Attachment{
			Filename: name,
			MIMEType: "image/png",
			Data:     data,
		})
	}
	return attachments
}

// asksForOrderID reports whether the reply asks the user to locate
// their order id, which warrants attaching the reference screenshots.
func asksForOrderID(body string) bool {
	lower := strings.ToLower(body)
	if !strings.Contains(lower, "order id") {
		return false
	}
	for _, word := range []string{"provide", "send", "where", "find"} {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

// joinReferences extends the References chain with the message being
// replied to, per RFC 5322 threading.
func joinReferences(references, messageID string) string {
	if messageID == "" {
		return references
	}
	if references == "" {
		return messageID
	}
	return references + " " + messageID
}

// replySubject prefixes "Re: " unless the subject already carries it.
func replySubject(subject string) string {
	subject = strings.TrimSpace(subject)
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}

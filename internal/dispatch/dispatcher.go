// Package dispatch watches the mailbox and drives each new email
// through the agent and out again as a reply: fetch, dedup, OCR,
// normalize, converse, send.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	"github.com/xseries/mailclerk/internal/agent"
	"github.com/xseries/mailclerk/internal/mail"
	"github.com/xseries/mailclerk/internal/normalize"
	"github.com/xseries/mailclerk/internal/ocr"
	"github.com/xseries/mailclerk/internal/respond"
	"github.com/xseries/mailclerk/internal/types"
)

// Stats summarizes one processing cycle.
type Stats struct {
	EmailsFound     int `json:"emails_found"`
	EmailsProcessed int `json:"emails_processed"`
	ResponsesSent   int `json:"responses_sent"`
	Errors          int `json:"errors"`
}

// Dispatcher polls the mailbox and processes at most one email per
// cycle, oldest first, so a burst of mail never interleaves replies.
type Dispatcher struct {
	transport mail.Transport
	agent     *agent.Agent
	responder *respond.Responder
	store     types.ThreadStore
	extractor ocr.Extractor // nil disables screenshot OCR
	watermark *Watermark
	logger    *slog.Logger

	// One cycle at a time, whether triggered by the scheduler or the
	// HTTP endpoint.
	sem *semaphore.Weighted

	mu        sync.Mutex
	selfAddr  string
	processed map[types.MessageID]struct{}
}

// Config collects the dispatcher's dependencies.
type Config struct {
	Transport mail.Transport
	Agent     *agent.Agent
	Responder *respond.Responder
	Store     types.ThreadStore
	Extractor ocr.Extractor
	Watermark *Watermark
	Logger    *slog.Logger
}

// New creates a Dispatcher.
func New(cfg Config) *Dispatcher {
	return &Dispatcher{
		transport: cfg.Transport,
		agent:     cfg.Agent,
		responder: cfg.Responder,
		store:     cfg.Store,
		extractor: cfg.Extractor,
		watermark: cfg.Watermark,
		logger:    cfg.Logger,
		sem:       semaphore.NewWeighted(1),
		processed: make(map[types.MessageID]struct{}),
	}
}

// Run polls on the given cron schedule until the context is canceled.
// One cycle runs immediately on startup.
func (d *Dispatcher) Run(ctx context.Context, schedule string) error {
	if _, err := d.ProcessOnce(ctx); err != nil {
		d.logger.Error("initial cycle failed", "error", err)
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if _, err := d.ProcessOnce(ctx); err != nil {
			d.logger.Error("cycle failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule %q: %w", schedule, err)
	}

	c.Start()
	<-ctx.Done()
	stop := c.Stop()
	<-stop.Done()
	return ctx.Err()
}

// ProcessOnce runs a single fetch-and-process cycle. Cycles are
// serialized; a trigger arriving mid-cycle waits its turn.
func (d *Dispatcher) ProcessOnce(ctx context.Context) (*Stats, error) {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer d.sem.Release(1)

	stats := &Stats{}

	self, err := d.selfAddress(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve mailbox address: %w", err)
	}

	emails, err := d.transport.FetchUnreadSince(ctx, d.watermark.Get())
	if err != nil {
		return nil, fmt.Errorf("fetch unread: %w", err)
	}
	stats.EmailsFound = len(emails)
	if len(emails) == 0 {
		return stats, nil
	}

	email := d.nextUnprocessed(emails)
	if email == nil {
		d.logger.Debug("all fetched emails already handled this session")
		return stats, nil
	}

	// Read marker comes off first so a crash mid-processing never loops
	// on the same email.
	if err := d.transport.MarkRead(ctx, email.MessageID); err != nil {
		d.logger.Warn("mark read failed", "message_id", email.MessageID, "error", err)
	}

	if normalize.Address(email.From) == self {
		d.logger.Info("skipping own message", "message_id", email.MessageID)
		d.advance(email.Received)
		return stats, nil
	}

	sent, err := d.processEmail(ctx, email)
	if err != nil {
		d.logger.Error("email processing failed",
			"message_id", email.MessageID, "thread_id", email.ThreadID, "error", err)
		stats.Errors++
		return stats, nil
	}
	stats.EmailsProcessed++
	if sent {
		stats.ResponsesSent++
	}

	d.advance(email.Received)
	return stats, nil
}

// processEmail runs one email through OCR, the agent, and the
// responder. Reports whether a reply went out.
func (d *Dispatcher) processEmail(ctx context.Context, email *mail.InboundEmail) (bool, error) {
	body := d.withExtractedImages(ctx, email)

	out, err := d.agent.HandleMessage(ctx, agent.Inbound{
		ThreadID:   email.ThreadID,
		UserEmail:  normalize.Address(email.From),
		Subject:    email.Subject,
		SenderName: email.From,
		Body:       normalize.Body(body),
	})
	if err != nil {
		return false, err
	}

	if out.Kind == agent.OutcomeNoResponse {
		d.logger.Info("no reply needed", "thread_id", email.ThreadID)
		return false, nil
	}

	if _, err := d.responder.Reply(ctx, email, out.Text); err != nil {
		return false, err
	}
	return true, nil
}

// withExtractedImages appends OCR text blocks for image attachments and
// records stored screenshot links in the thread metadata.
func (d *Dispatcher) withExtractedImages(ctx context.Context, email *mail.InboundEmail) string {
	if d.extractor == nil || len(email.Attachments) == 0 {
		return email.Body
	}

	body := email.Body
	var refs []types.AttachmentRef
	n := 0
	for _, att := range email.Attachments {
		if !strings.HasPrefix(att.MIMEType, "image/") {
			continue
		}
		n++
		res, err := d.extractor.Extract(ctx, att.Filename, att.MIMEType, att.Data)
		if err != nil {
			d.logger.Warn("ocr failed",
				"message_id", email.MessageID, "attachment", att.Filename, "error", err)
			continue
		}
		if res.Text != "" {
			body += fmt.Sprintf("\n\n%s (Attachment %d):\n%s", normalize.OCRMarker, n, res.Text)
		}
		if res.Ref != nil {
			refs = append(refs, *res.Ref)
		}
	}

	if len(refs) > 0 {
		if err := d.store.SetMetadataField(ctx, email.ThreadID, types.MetaScreenshotLinks, refs); err != nil {
			d.logger.Warn("screenshot links not recorded", "thread_id", email.ThreadID, "error", err)
		}
	}
	return body
}

// nextUnprocessed picks the oldest email not yet handled this session
// and marks it as handled.
func (d *Dispatcher) nextUnprocessed(emails []*mail.InboundEmail) *mail.InboundEmail {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range emails {
		if _, done := d.processed[e.MessageID]; !done {
			d.processed[e.MessageID] = struct{}{}
			return e
		}
	}
	return nil
}

func (d *Dispatcher) selfAddress(ctx context.Context) (string, error) {
	d.mu.Lock()
	cached := d.selfAddr
	d.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	addr, err := d.transport.Profile(ctx)
	if err != nil {
		return "", err
	}
	addr = normalize.Address(addr)

	d.mu.Lock()
	d.selfAddr = addr
	d.mu.Unlock()
	return addr, nil
}

func (d *Dispatcher) advance(t time.Time) {
	if err := d.watermark.Advance(t); err != nil {
		d.logger.Warn("watermark not persisted", "error", err)
	}
}

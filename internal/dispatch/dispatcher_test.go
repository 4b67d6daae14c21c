package dispatch

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xseries/mailclerk/internal/agent"
	"github.com/xseries/mailclerk/internal/mail"
	"github.com/xseries/mailclerk/internal/ocr"
	"github.com/xseries/mailclerk/internal/respond"
	"github.com/xseries/mailclerk/internal/store"
	"github.com/xseries/mailclerk/internal/types"
	"github.com/xseries/mailclerk/pkg/llm"
)

// fakeTransport serves a fixed unread queue and records sends and read
// markers.
type fakeTransport struct {
	profile string
	unread  []*mail.InboundEmail
	sent    []*mail.OutboundEmail
	read    []types.MessageID
}

func (f *fakeTransport) Profile(context.Context) (string, error) { return f.profile, nil }

func (f *fakeTransport) FetchUnreadSince(_ context.Context, since time.Time) ([]*mail.InboundEmail, error) {
	var out []*mail.InboundEmail
	for _, e := range f.unread {
		if e.Received.After(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeTransport) Send(_ context.Context, out *mail.OutboundEmail) (types.MessageID, error) {
	f.sent = append(f.sent, out)
	return "sent-1", nil
}

func (f *fakeTransport) MarkRead(_ context.Context, id types.MessageID) error {
	f.read = append(f.read, id)
	return nil
}

// scriptedProvider replies with each response in turn and records the
// requests it saw.
type scriptedProvider struct {
	replies  []string
	calls    int
	requests [][]llm.Message
}

func (p *scriptedProvider) Complete(_ context.Context, msgs []llm.Message, _ []llm.Tool) (*llm.Response, error) {
	p.requests = append(p.requests, msgs)
	reply := "fallback"
	if p.calls < len(p.replies) {
		reply = p.replies[p.calls]
	}
	p.calls++
	return &llm.Response{Content: reply}, nil
}

// fakeExtractor returns canned OCR text for every image.
type fakeExtractor struct {
	text string
	ref  *types.AttachmentRef
}

func (f *fakeExtractor) Extract(context.Context, string, string, []byte) (*ocr.Result, error) {
	return &ocr.Result{Text: f.text, Ref: f.ref}, nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newDispatcher(t *testing.T, tr *fakeTransport, provider llm.Provider, ext ocr.Extractor) (*Dispatcher, types.ThreadStore) {
	t.Helper()
	st, err := store.Open("file", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	a := agent.New(agent.Config{
		Provider:     provider,
		Store:        st,
		Registry:     agent.NewRegistry(),
		SystemPrompt: "system",
		MaxRounds:    6,
		MessageCap:   8,
		Logger:       discard(),
	})

	r := respond.New(respond.Config{
		Transport: tr,
		Retry:     &mail.RetryPolicy{MaxAttempts: 1, InitialDelay: time.Millisecond, Multiplier: 2, MaxDelay: time.Millisecond},
		Logger:    discard(),
	})

	wm, err := LoadWatermark(DefaultWatermarkPath(t.TempDir()), time.Unix(0, 0))
	if err != nil {
		t.Fatal(err)
	}

	return New(Config{
		Transport: tr,
		Agent:     a,
		Responder: r,
		Store:     st,
		Extractor: ext,
		Watermark: wm,
		Logger:    discard(),
	}), st
}

func unreadEmail(id, from, body string, received time.Time) *mail.InboundEmail {
	return &mail.InboundEmail{
		MessageID:    types.MessageID(id),
		ThreadID:     types.ThreadID("thread-" + id),
		From:         from,
		Subject:      "Help",
		Body:         body,
		Received:     received,
		RFCMessageID: "<" + id + "@example.com>",
	}
}

func TestProcessOnce_RepliesAndAdvances(t *testing.T) {
	now := time.Now()
	tr := &fakeTransport{
		profile: "support@example.com",
		unread:  []*mail.InboundEmail{unreadEmail("m1", "Jane <user@example.com>", "my app crashes", now)},
	}
	p := &scriptedProvider{replies: []string{"Sorry to hear that, can you share your app version?"}}
	d, _ := newDispatcher(t, tr, p, nil)

	stats, err := d.ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("ProcessOnce failed: %v", err)
	}
	if stats.EmailsFound != 1 || stats.EmailsProcessed != 1 || stats.ResponsesSent != 1 || stats.Errors != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	if len(tr.sent) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(tr.sent))
	}
	out := tr.sent[0]
	if out.Subject != "Re: Help" || out.ThreadID != "thread-m1" || out.InReplyTo != "<m1@example.com>" {
		t.Errorf("bad outbound email: %+v", out)
	}
	if len(tr.read) != 1 || tr.read[0] != "m1" {
		t.Errorf("email must be marked read: %v", tr.read)
	}
	if !d.watermark.Get().Equal(now) {
		t.Errorf("watermark should advance to the processed email: %v", d.watermark.Get())
	}

	// A second cycle finds nothing new.
	stats, err = d.ProcessOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.EmailsFound != 0 || stats.EmailsProcessed != 0 {
		t.Errorf("watermark must exclude handled mail: %+v", stats)
	}
}

func TestProcessOnce_OneEmailPerCycle(t *testing.T) {
	now := time.Now()
	tr := &fakeTransport{
		profile: "support@example.com",
		unread: []*mail.InboundEmail{
			unreadEmail("m1", "a@example.com", "first", now.Add(-time.Minute)),
			unreadEmail("m2", "b@example.com", "second", now),
		},
	}
	p := &scriptedProvider{replies: []string{"reply one", "reply two"}}
	d, _ := newDispatcher(t, tr, p, nil)
	ctx := context.Background()

	stats, err := d.ProcessOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.EmailsFound != 2 || stats.EmailsProcessed != 1 {
		t.Errorf("first cycle: %+v", stats)
	}
	if tr.sent[0].ThreadID != "thread-m1" {
		t.Errorf("oldest email must go first, got %v", tr.sent[0].ThreadID)
	}

	if _, err := d.ProcessOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if len(tr.sent) != 2 || tr.sent[1].ThreadID != "thread-m2" {
		t.Errorf("second cycle should handle the next email: %d sent", len(tr.sent))
	}
}

func TestProcessOnce_SkipsOwnMessages(t *testing.T) {
	tr := &fakeTransport{
		profile: "support@example.com",
		unread: []*mail.InboundEmail{
			unreadEmail("m1", "Support <SUPPORT@example.com>", "automated copy", time.Now()),
		},
	}
	p := &scriptedProvider{}
	d, _ := newDispatcher(t, tr, p, nil)

	stats, err := d.ProcessOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.EmailsProcessed != 0 || stats.ResponsesSent != 0 {
		t.Errorf("own messages must not be processed: %+v", stats)
	}
	if p.calls != 0 {
		t.Errorf("model must not see own messages")
	}
	if len(tr.read) != 1 {
		t.Errorf("own messages must still be marked read: %v", tr.read)
	}
}

func TestProcessOnce_SessionDedup(t *testing.T) {
	now := time.Now()
	email := unreadEmail("m1", "user@example.com", "hello", now)
	tr := &fakeTransport{profile: "support@example.com", unread: []*mail.InboundEmail{email}}
	p := &scriptedProvider{replies: []string{"hi"}}
	d, _ := newDispatcher(t, tr, p, nil)
	ctx := context.Background()

	if _, err := d.ProcessOnce(ctx); err != nil {
		t.Fatal(err)
	}

	// Simulate the provider still reporting the message unread (read
	// marker lag) and the watermark write having been lost.
	d.watermark.at = time.Unix(0, 0)

	stats, err := d.ProcessOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.EmailsProcessed != 0 {
		t.Errorf("session dedup must catch refetched mail: %+v", stats)
	}
	if len(tr.sent) != 1 {
		t.Errorf("expected no duplicate reply, got %d", len(tr.sent))
	}
}

func TestProcessOnce_ExtractsImageText(t *testing.T) {
	email := unreadEmail("m1", "user@example.com", "the app shows this error", time.Now())
	email.Attachments = []mail.Attachment{
		{Filename: "screen.png", MIMEType: "image/png", Data: []byte("png")},
		{Filename: "log.txt", MIMEType: "text/plain", Data: []byte("txt")},
	}
	tr := &fakeTransport{profile: "support@example.com", unread: []*mail.InboundEmail{email}}
	p := &scriptedProvider{replies: []string{"thanks for the screenshot"}}
	ext := &fakeExtractor{
		text: "NullPointerException at line 42",
		ref:  &types.AttachmentRef{ID: "f1", URL: "https://drive.example.com/f1"},
	}
	d, st := newDispatcher(t, tr, p, ext)
	ctx := context.Background()

	if _, err := d.ProcessOnce(ctx); err != nil {
		t.Fatal(err)
	}

	// The model sees the extracted text inline with the body.
	userMsg := p.requests[0][1].Content
	if !strings.Contains(userMsg, "EXTRACTED IMAGE CONTENT (Attachment 1):") {
		t.Errorf("missing OCR block:\n%s", userMsg)
	}
	if !strings.Contains(userMsg, "NullPointerException at line 42") {
		t.Errorf("missing OCR text:\n%s", userMsg)
	}

	meta, _ := st.Metadata(ctx, email.ThreadID)
	links, ok := meta[types.MetaScreenshotLinks].([]any)
	if !ok || len(links) != 1 {
		t.Fatalf("screenshot links not recorded: %v", meta[types.MetaScreenshotLinks])
	}
	link, _ := links[0].(map[string]any)
	if link["url"] != "https://drive.example.com/f1" {
		t.Errorf("bad screenshot link: %v", link)
	}
}

func TestProcessOnce_AttachesPendingCertificate(t *testing.T) {
	outbox := t.TempDir()
	certPath := filepath.Join(outbox, "certificate_Jane_Doe_Go_Basics_20260901_120000.pdf")
	if err := os.WriteFile(certPath, []byte("%PDF"), 0o644); err != nil {
		t.Fatal(err)
	}

	tr := &fakeTransport{
		profile: "support@example.com",
		unread:  []*mail.InboundEmail{unreadEmail("m1", "user@example.com", "please re-issue my certificate", time.Now())},
	}
	p := &scriptedProvider{replies: []string{"Your corrected certificate is attached."}}

	st, err := store.Open("file", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	a := agent.New(agent.Config{
		Provider:     p,
		Store:        st,
		Registry:     agent.NewRegistry(),
		SystemPrompt: "system",
		MaxRounds:    6,
		MessageCap:   8,
		Logger:       discard(),
	})
	r := respond.New(respond.Config{
		Transport: tr,
		Retry:     &mail.RetryPolicy{MaxAttempts: 1, InitialDelay: time.Millisecond, Multiplier: 2, MaxDelay: time.Millisecond},
		OutboxDir: outbox,
		Logger:    discard(),
	})
	wm, err := LoadWatermark(DefaultWatermarkPath(t.TempDir()), time.Unix(0, 0))
	if err != nil {
		t.Fatal(err)
	}
	d := New(Config{
		Transport: tr,
		Agent:     a,
		Responder: r,
		Store:     st,
		Watermark: wm,
		Logger:    discard(),
	})

	if _, err := d.ProcessOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(tr.sent) != 1 || len(tr.sent[0].Attachments) != 1 {
		t.Fatalf("certificate must ride the reply: %d sent", len(tr.sent))
	}
	if tr.sent[0].Attachments[0].MIMEType != "application/pdf" {
		t.Errorf("bad attachment: %+v", tr.sent[0].Attachments[0])
	}
	if _, err := os.Stat(certPath); !os.IsNotExist(err) {
		t.Error("certificate must leave the outbox after delivery")
	}
}

func TestProcessOnce_NoResponseSendsNothing(t *testing.T) {
	tr := &fakeTransport{
		profile: "support@example.com",
		unread:  []*mail.InboundEmail{unreadEmail("m1", "user@example.com", "thanks!", time.Now())},
	}
	p := &scriptedProvider{replies: []string{agent.NoResponseSentinel}}
	d, _ := newDispatcher(t, tr, p, nil)

	stats, err := d.ProcessOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.EmailsProcessed != 1 || stats.ResponsesSent != 0 {
		t.Errorf("sentinel must suppress the reply: %+v", stats)
	}
	if len(tr.sent) != 0 {
		t.Errorf("unexpected reply sent")
	}
}

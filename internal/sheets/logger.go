package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xseries/mailclerk/internal/types"
)

const timestampLayout = "2006-01-02 15:04:05"

// Logger writes one issue to its category sheet and to All-Logs.
type Logger struct {
	sink   RowSink
	store  types.ThreadStore
	logger *slog.Logger
	now    func() time.Time
}

// NewLogger creates an issue logger. The store is consulted for
// screenshot links when logging technical issues; it may be nil.
func NewLogger(sink RowSink, store types.ThreadStore, logger *slog.Logger) *Logger {
	return &Logger{
		sink:   sink,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Log records the issue in its category sheet and in All-Logs.
func (l *Logger) Log(ctx context.Context, issue Issue) error {
	ts := l.now().Format(timestampLayout)

	var (
		sheet   string
		row     []string
		allLogs []string
	)

	switch v := issue.(type) {
	case TechnicalIssue:
		status := orDefault(v.Status, "Open")
		sheet = SheetTechnical
		row = []string{
			ts, v.AppName, v.Email, v.Description,
			orDefault(v.Device, "Not provided"),
			orDefault(v.OSVersion, "Not provided"),
			orDefault(v.AppVersion, "Not provided"),
			l.screenshotCell(ctx, v.ThreadID),
		}
		allLogs = []string{ts, v.issueType(), v.AppName, v.Email, v.Description, status}

	case CertificateIssue:
		status := orDefault(v.Status, "Open")
		sheet = SheetCertificate
		row = []string{ts, v.AppName, v.Email, v.Course, v.NewName}
		allLogs = []string{ts, v.issueType(), v.AppName, v.Email,
			orDefault(v.InitialMessage, "Certificate name change requested"), status}

	case SubscriptionIssue:
		status := orDefault(v.Status, "Open")
		sheet = SheetSubscription
		row = []string{ts, v.AppName, v.Email, v.OrderID, status}
		allLogs = []string{ts, v.issueType(), v.AppName, v.Email,
			orDefault(v.InitialMessage, "Subscription activation issue"), status}

	case RefundRequest:
		status := orDefault(v.Status, "Pending")
		sheet = SheetRefund
		row = []string{ts, v.AppName, v.Email, v.OrderID, status}
		allLogs = []string{ts, v.issueType(), v.AppName, v.Email,
			orDefault(v.InitialMessage, "Customer requested refund"), status}

	case AccountDeletion:
		status := orDefault(v.Status, "Pending")
		sheet = SheetAccountDelete
		row = []string{ts, v.AppName, v.Email, status}
		allLogs = []string{ts, v.issueType(), v.AppName, v.Email,
			orDefault(v.InitialMessage, "Account deletion requested"), status}

	case PaymentIssue:
		status := orDefault(v.Status, "Open")
		sheet = SheetPayment
		row = []string{ts, v.AppName, v.Email,
			orDefault(v.Country, "Not provided"),
			orDefault(v.InitialMessage, "Payment processing issue"), status}
		allLogs = []string{ts, v.issueType(), v.AppName, v.Email,
			orDefault(v.InitialMessage, "Payment processing issue"), status}

	case GeneralEntry:
		status := orDefault(v.Status, "Open")
		allLogs = []string{ts, v.issueType(), v.AppName, v.Email, v.InitialMessage, status}

	default:
		return fmt.Errorf("unknown issue type %T", issue)
	}

	if sheet != "" {
		if err := l.sink.InsertTop(ctx, sheet, row); err != nil {
			return fmt.Errorf("logging to %s: %w", sheet, err)
		}
	}
	if err := l.sink.InsertTop(ctx, SheetAllLogs, allLogs); err != nil {
		return fmt.Errorf("logging to %s: %w", SheetAllLogs, err)
	}

	l.logger.Info("issue logged", "sheet", orDefault(sheet, SheetAllLogs), "email", allLogs[3], "type", allLogs[1])
	return nil
}

// screenshotCell resolves screenshot URLs from thread metadata,
// newline-joined for the Screenshot column.
func (l *Logger) screenshotCell(ctx context.Context, threadID string) string {
	const fallback = "See screenshots column"
	if l.store == nil || threadID == "" {
		return fallback
	}
	meta, err := l.store.Metadata(ctx, types.ThreadID(threadID))
	if err != nil {
		l.logger.Warn("screenshot lookup failed", "thread_id", threadID, "error", err)
		return fallback
	}
	links, ok := meta[types.MetaScreenshotLinks].([]any)
	if !ok || len(links) == 0 {
		return fallback
	}
	var urls []string
	for _, raw := range links {
		if m, ok := raw.(map[string]any); ok {
			if u, ok := m["url"].(string); ok && u != "" {
				urls = append(urls, u)
			}
		}
	}
	if len(urls) == 0 {
		return fallback
	}
	return strings.Join(urls, "\n")
}

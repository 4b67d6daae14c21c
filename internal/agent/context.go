package agent

import (
	"context"

	"github.com/xseries/mailclerk/internal/types"
)

type threadIDKey struct{}

// WithThreadID stamps the active thread id onto the context so tools
// can resolve per-thread state (screenshot links, for example).
func WithThreadID(ctx context.Context, id types.ThreadID) context.Context {
	return context.WithValue(ctx, threadIDKey{}, id)
}

// ThreadIDFromContext returns the active thread id, or "" when the
// call did not originate from a conversation.
func ThreadIDFromContext(ctx context.Context) types.ThreadID {
	id, _ := ctx.Value(threadIDKey{}).(types.ThreadID)
	return id
}

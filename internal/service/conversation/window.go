// Package conversation keeps recent dialogue within a token budget and
// recovers context that the sliding window dropped or that lives in prior
// sessions.
package conversation

import (
	"mnemo-backend/internal/domain"
	"mnemo-backend/pkg/tokens"
)

// Window defaults.
const (
	DefaultMaxTokens         = 8000
	DefaultMinMessages       = 5
	DefaultReserveForContext = 2000
)

// WindowOptions configure the sliding window computation.
type WindowOptions struct {
	// MaxTokens is the overall budget for the window.
	MaxTokens int
	// MinMessages is the number of most recent messages always included,
	// regardless of budget.
	MinMessages int
	// ReserveForContext is held back from MaxTokens for retrieved context.
	ReserveForContext int
}

// DefaultWindowOptions returns the standard window configuration.
func DefaultWindowOptions() WindowOptions {
	return WindowOptions{
		MaxTokens:         DefaultMaxTokens,
		MinMessages:       DefaultMinMessages,
		ReserveForContext: DefaultReserveForContext,
	}
}

// WindowResult is the computed window over a message history.
type WindowResult struct {
	// Messages are the included messages in chronological order.
	Messages []domain.ConversationMessage
	// TruncatedCount is the number of older messages excluded.
	TruncatedCount int
	// TokenCount is the estimated token total of the included messages.
	TokenCount int
	// HasMoreHistory is true iff any message was excluded.
	HasMoreHistory bool
}

// ComputeWindow walks messages from most recent to oldest, always including
// the MinMessages most recent, then older messages while the cumulative
// estimate fits within MaxTokens minus ReserveForContext. It stops at the
// first message that would exceed the remaining budget.
func ComputeWindow(messages []domain.ConversationMessage, opts WindowOptions) WindowResult {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.MinMessages <= 0 {
		opts.MinMessages = DefaultMinMessages
	}
	if opts.ReserveForContext < 0 {
		opts.ReserveForContext = DefaultReserveForContext
	}

	available := opts.MaxTokens - opts.ReserveForContext
	total := 0
	included := 0

	for i := len(messages) - 1; i >= 0; i-- {
		cost := tokens.Estimate(messages[i].Content)
		if included < opts.MinMessages {
			total += cost
			included++
			continue
		}
		if total+cost > available {
			break
		}
		total += cost
		included++
	}

	start := len(messages) - included
	result := WindowResult{
		Messages:       append([]domain.ConversationMessage(nil), messages[start:]...),
		TruncatedCount: start,
		TokenCount:     total,
		HasMoreHistory: start > 0,
	}
	return result
}

package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/BookingBridge/internal/models"
)

// Formatter defines the availability rendering interface the dispatcher needs.
type Formatter interface {
	Format(ctx context.Context, queryText string) string
}

// ToolDispatcher services one requires_action batch: it matches each requested
// action by name, runs the matching handler, and packages the outputs for
// submission back to the assistant backend.
//
// Every invocation produces exactly one ToolResult, including unrecognized
// names. Dropping unknown invocations would leave the backend parked in
// requires_action forever, since it expects one output per correlation token.
type ToolDispatcher struct {
	formatter Formatter
}

// NewToolDispatcher creates a dispatcher backed by the given formatter.
func NewToolDispatcher(formatter Formatter) *ToolDispatcher {
	return &ToolDispatcher{formatter: formatter}
}

// Dispatch handles a batch of tool invocations sequentially. userText is the
// turn's original user message; it is the fallback query when an invocation's
// arguments are missing or malformed. One failing invocation never blocks the
// batch: its result carries a user-facing fallback string instead.
func (d *ToolDispatcher) Dispatch(ctx context.Context, userText string, invocations []models.ToolInvocation) []models.ToolResult {
	results := make([]models.ToolResult, 0, len(invocations))
	seen := make(map[string]bool, len(invocations))
	for _, inv := range invocations {
		if seen[inv.ID] {
			slog.Warn("ToolDispatcher.Dispatch: duplicate correlation token in batch, skipping", "id", inv.ID, "name", inv.Name)
			continue
		}
		seen[inv.ID] = true
		results = append(results, models.ToolResult{
			ID:     inv.ID,
			Output: d.dispatchOne(ctx, userText, inv),
		})
	}
	return results
}

func (d *ToolDispatcher) dispatchOne(ctx context.Context, userText string, inv models.ToolInvocation) string {
	switch inv.Name {
	case models.ToolNameCheckAvailability:
		query := userText
		params, err := models.ParseAvailabilityToolParams(inv.Arguments)
		if err != nil {
			slog.Debug("ToolDispatcher.dispatchOne: falling back to user text for query", "id", inv.ID, "error", err)
		} else if params.Message != "" {
			query = params.Message
		}
		slog.Info("ToolDispatcher.dispatchOne: handling availability lookup", "id", inv.ID)
		return d.formatter.Format(ctx, query)
	default:
		slog.Warn("ToolDispatcher.dispatchOne: unrecognized tool name", "id", inv.ID, "name", inv.Name)
		return fmt.Sprintf("Unsupported action: %s", inv.Name)
	}
}

package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/BookingBridge/internal/models"
)

// AssistantBackend defines the interface for the conversational-assistant
// backend consumed by the turn orchestration: create a context, append the
// user entry, start processing, poll status, submit tool outputs, and list
// entries. The context identifier always comes before the turn identifier.
type AssistantBackend interface {
	CreateContext(ctx context.Context) (string, error)
	AddUserMessage(ctx context.Context, contextID, userText string) error
	StartTurn(ctx context.Context, contextID string) (string, error)
	GetTurn(ctx context.Context, contextID, turnID string) (models.Turn, error)
	SubmitToolResults(ctx context.Context, contextID, turnID string, results []models.ToolResult) error
	LatestAssistantReply(ctx context.Context, contextID string) (string, error)
}

// Dispatcher defines the tool dispatch interface the orchestrator needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, userText string, invocations []models.ToolInvocation) []models.ToolResult
}

// Polling defaults for the turn state machine.
const (
	// DefaultPollInterval is the fixed wait between status checks.
	DefaultPollInterval = 1 * time.Second
	// DefaultMaxPollAttempts bounds how many waited status checks one turn
	// may issue before failing with ErrTurnTimeout.
	DefaultMaxPollAttempts = 60
)

// TurnResult holds the extracted reply plus the identifiers of the context and
// turn that produced it.
type TurnResult struct {
	Reply     string
	ContextID string
	TurnID    string
}

// TurnOrchestrator drives one complete conversation turn: create context,
// submit input, start processing, poll-and-dispatch, extract reply. One
// orchestrator is safe for concurrent use; all per-turn state is local to
// RunTurn.
type TurnOrchestrator struct {
	backend      AssistantBackend
	dispatcher   Dispatcher
	pollInterval time.Duration
	maxAttempts  int
	sleep        func(ctx context.Context, d time.Duration) error
}

// NewTurnOrchestrator creates an orchestrator with the default polling policy.
func NewTurnOrchestrator(backend AssistantBackend, dispatcher Dispatcher) *TurnOrchestrator {
	return &TurnOrchestrator{
		backend:      backend,
		dispatcher:   dispatcher,
		pollInterval: DefaultPollInterval,
		maxAttempts:  DefaultMaxPollAttempts,
		sleep:        sleepContext,
	}
}

// RunTurn executes one full turn for userText. Empty text is forwarded to the
// backend as-is. On success the reply is never empty: a completed turn with no
// assistant-authored entry, or an empty one, fails with models.ErrNoReply.
func (o *TurnOrchestrator) RunTurn(ctx context.Context, userText string) (TurnResult, error) {
	var result TurnResult

	// Step 1: create a fresh conversation context for this message.
	contextID, err := o.backend.CreateContext(ctx)
	if err != nil {
		return result, fmt.Errorf("%w: %v", models.ErrContextCreation, err)
	}
	if contextID == "" {
		return result, models.ErrContextCreation
	}
	result.ContextID = contextID
	slog.Debug("TurnOrchestrator.RunTurn: context created", "contextID", contextID)

	// Step 2: attach the user entry. No validation beyond what the backend does.
	if err := o.backend.AddUserMessage(ctx, contextID, userText); err != nil {
		return result, fmt.Errorf("failed to submit user input: %w", err)
	}

	// Step 3: start processing.
	turnID, err := o.backend.StartTurn(ctx, contextID)
	if err != nil {
		return result, fmt.Errorf("%w: %v", models.ErrTurnCreation, err)
	}
	if turnID == "" {
		return result, models.ErrTurnCreation
	}
	result.TurnID = turnID
	slog.Debug("TurnOrchestrator.RunTurn: turn started", "contextID", contextID, "turnID", turnID)

	// Step 4: poll until terminal, dispatching tool batches along the way.
	if err := o.pollUntilCompleted(ctx, contextID, turnID, userText); err != nil {
		return result, err
	}

	// Step 5: extract the newest assistant-authored entry.
	reply, err := o.backend.LatestAssistantReply(ctx, contextID)
	if err != nil {
		return result, fmt.Errorf("failed to list conversation entries: %w", err)
	}
	if reply == "" {
		return result, models.ErrNoReply
	}
	result.Reply = reply
	slog.Info("TurnOrchestrator.RunTurn: turn completed", "contextID", contextID, "turnID", turnID, "replyLength", len(reply))
	return result, nil
}

// pollUntilCompleted is the turn state machine. Each iteration waits one poll
// interval and checks status. requires_action iterations dispatch the pending
// batch and do not consume an attempt. Unrecognized statuses are treated as
// not yet terminal.
func (o *TurnOrchestrator) pollUntilCompleted(ctx context.Context, contextID, turnID, userText string) error {
	// Correlation tokens already answered this turn. The backend treats a
	// resubmitted token as an error, so each is submitted at most once.
	submitted := make(map[string]bool)

	for attempts := 0; attempts < o.maxAttempts; {
		if err := o.sleep(ctx, o.pollInterval); err != nil {
			return err
		}

		turn, err := o.backend.GetTurn(ctx, contextID, turnID)
		if err != nil {
			return fmt.Errorf("failed to retrieve turn status: %w", err)
		}
		slog.Debug("TurnOrchestrator.pollUntilCompleted: status check", "contextID", contextID, "turnID", turnID, "status", turn.Status, "attempt", attempts)

		switch turn.Status {
		case models.TurnStatusCompleted:
			return nil
		case models.TurnStatusFailed:
			return fmt.Errorf("%w: %s", models.ErrTurnFailed, turn.ErrorDetail)
		case models.TurnStatusCancelled:
			return models.ErrTurnCancelled
		case models.TurnStatusExpired:
			return models.ErrTurnExpired
		case models.TurnStatusRequiresAction:
			pending := make([]models.ToolInvocation, 0, len(turn.PendingTools))
			for _, inv := range turn.PendingTools {
				if submitted[inv.ID] {
					continue
				}
				pending = append(pending, inv)
			}
			if len(pending) == 0 {
				// Outputs already submitted; the backend has not moved yet.
				attempts++
				continue
			}
			results := o.dispatcher.Dispatch(ctx, userText, pending)
			if err := o.backend.SubmitToolResults(ctx, contextID, turnID, results); err != nil {
				return fmt.Errorf("failed to submit tool outputs: %w", err)
			}
			for _, r := range results {
				submitted[r.ID] = true
			}
			slog.Info("TurnOrchestrator.pollUntilCompleted: tool batch submitted", "contextID", contextID, "turnID", turnID, "count", len(results))
			// Dispatch is not a wasted attempt: the counter stays put.
		default:
			// queued, in_progress, or anything the backend adds later.
			attempts++
		}
	}

	return fmt.Errorf("%w: gave up after %d status checks", models.ErrTurnTimeout, o.maxAttempts)
}

// sleepContext waits for d or until ctx is done, whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

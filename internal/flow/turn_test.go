package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/BookingBridge/internal/models"
)

// mockBackend is a scripted AssistantBackend. Each GetTurn call consumes the
// next entry in statuses; the final entry repeats once the script runs out.
type mockBackend struct {
	contextID    string
	turnID       string
	reply        string
	statuses     []models.Turn
	statusCalls  int
	addedText    []string
	submitted    [][]models.ToolResult
	createErr    error
	addErr       error
	startErr     error
	getErr       error
	submitErr    error
	listErr      error
	createCalled int
}

func (m *mockBackend) CreateContext(ctx context.Context) (string, error) {
	m.createCalled++
	return m.contextID, m.createErr
}

func (m *mockBackend) AddUserMessage(ctx context.Context, contextID, userText string) error {
	m.addedText = append(m.addedText, userText)
	return m.addErr
}

func (m *mockBackend) StartTurn(ctx context.Context, contextID string) (string, error) {
	return m.turnID, m.startErr
}

func (m *mockBackend) GetTurn(ctx context.Context, contextID, turnID string) (models.Turn, error) {
	if m.getErr != nil {
		return models.Turn{}, m.getErr
	}
	idx := m.statusCalls
	if idx >= len(m.statuses) {
		idx = len(m.statuses) - 1
	}
	m.statusCalls++
	return m.statuses[idx], nil
}

func (m *mockBackend) SubmitToolResults(ctx context.Context, contextID, turnID string, results []models.ToolResult) error {
	m.submitted = append(m.submitted, results)
	return m.submitErr
}

func (m *mockBackend) LatestAssistantReply(ctx context.Context, contextID string) (string, error) {
	return m.reply, m.listErr
}

// mockDispatcher answers every invocation with a canned output and counts calls.
type mockDispatcher struct {
	calls     int
	lastText  string
	lastBatch []models.ToolInvocation
}

func (m *mockDispatcher) Dispatch(ctx context.Context, userText string, invocations []models.ToolInvocation) []models.ToolResult {
	m.calls++
	m.lastText = userText
	m.lastBatch = invocations
	results := make([]models.ToolResult, 0, len(invocations))
	for _, inv := range invocations {
		results = append(results, models.ToolResult{ID: inv.ID, Output: "slots"})
	}
	return results
}

// newTestOrchestrator wires a mock backend and dispatcher with an instant,
// counting sleep so tests run without real delays.
func newTestOrchestrator(backend *mockBackend, dispatcher *mockDispatcher) (*TurnOrchestrator, *int) {
	orch := NewTurnOrchestrator(backend, dispatcher)
	sleeps := 0
	orch.sleep = func(ctx context.Context, d time.Duration) error {
		if d != DefaultPollInterval {
			return fmt.Errorf("unexpected sleep duration %v", d)
		}
		sleeps++
		return nil
	}
	return orch, &sleeps
}

func turns(statuses ...models.TurnStatus) []models.Turn {
	out := make([]models.Turn, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, models.Turn{ID: "run_1", Status: s})
	}
	return out
}

func TestRunTurn_Success(t *testing.T) {
	backend := &mockBackend{
		contextID: "thread_1",
		turnID:    "run_1",
		reply:     "Hello there!",
		statuses:  turns(models.TurnStatusQueued, models.TurnStatusInProgress, models.TurnStatusCompleted),
	}
	orch, sleeps := newTestOrchestrator(backend, &mockDispatcher{})

	result, err := orch.RunTurn(context.Background(), "Hi")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Reply != "Hello there!" {
		t.Errorf("expected reply 'Hello there!', got %q", result.Reply)
	}
	if result.ContextID != "thread_1" || result.TurnID != "run_1" {
		t.Errorf("unexpected identifiers: %+v", result)
	}
	if len(backend.addedText) != 1 || backend.addedText[0] != "Hi" {
		t.Errorf("expected user text 'Hi' submitted once, got %v", backend.addedText)
	}
	if backend.statusCalls != 3 {
		t.Errorf("expected 3 status checks, got %d", backend.statusCalls)
	}
	if *sleeps != 3 {
		t.Errorf("expected one sleep per status check, got %d sleeps", *sleeps)
	}
}

func TestRunTurn_EmptyTextForwardedAsIs(t *testing.T) {
	backend := &mockBackend{
		contextID: "thread_1",
		turnID:    "run_1",
		reply:     "How can I help?",
		statuses:  turns(models.TurnStatusCompleted),
	}
	orch, _ := newTestOrchestrator(backend, &mockDispatcher{})

	if _, err := orch.RunTurn(context.Background(), ""); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(backend.addedText) != 1 || backend.addedText[0] != "" {
		t.Errorf("expected empty text forwarded as-is, got %v", backend.addedText)
	}
}

func TestRunTurn_ContextCreationFailure(t *testing.T) {
	cases := []struct {
		name    string
		backend *mockBackend
	}{
		{"error", &mockBackend{createErr: errors.New("boom")}},
		{"empty identifier", &mockBackend{contextID: ""}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			orch, _ := newTestOrchestrator(tc.backend, &mockDispatcher{})
			_, err := orch.RunTurn(context.Background(), "Hi")
			if !errors.Is(err, models.ErrContextCreation) {
				t.Errorf("expected ErrContextCreation, got %v", err)
			}
		})
	}
}

func TestRunTurn_TurnCreationFailure(t *testing.T) {
	backend := &mockBackend{contextID: "thread_1", turnID: ""}
	orch, _ := newTestOrchestrator(backend, &mockDispatcher{})
	_, err := orch.RunTurn(context.Background(), "Hi")
	if !errors.Is(err, models.ErrTurnCreation) {
		t.Errorf("expected ErrTurnCreation, got %v", err)
	}
}

func TestRunTurn_TerminalFailures(t *testing.T) {
	cases := []struct {
		status models.TurnStatus
		want   error
	}{
		{models.TurnStatusFailed, models.ErrTurnFailed},
		{models.TurnStatusCancelled, models.ErrTurnCancelled},
		{models.TurnStatusExpired, models.ErrTurnExpired},
	}
	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			backend := &mockBackend{
				contextID: "thread_1",
				turnID:    "run_1",
				statuses:  turns(models.TurnStatusInProgress, tc.status),
			}
			orch, _ := newTestOrchestrator(backend, &mockDispatcher{})
			_, err := orch.RunTurn(context.Background(), "Hi")
			if !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestRunTurn_FailedCarriesBackendDetail(t *testing.T) {
	backend := &mockBackend{
		contextID: "thread_1",
		turnID:    "run_1",
		statuses:  []models.Turn{{ID: "run_1", Status: models.TurnStatusFailed, ErrorDetail: "rate limit exceeded"}},
	}
	orch, _ := newTestOrchestrator(backend, &mockDispatcher{})
	_, err := orch.RunTurn(context.Background(), "Hi")
	if !errors.Is(err, models.ErrTurnFailed) {
		t.Fatalf("expected ErrTurnFailed, got %v", err)
	}
	if got := err.Error(); !strings.Contains(got, "rate limit exceeded") {
		t.Errorf("expected backend detail in error, got %q", got)
	}
}

func TestRunTurn_Timeout(t *testing.T) {
	backend := &mockBackend{
		contextID: "thread_1",
		turnID:    "run_1",
		statuses:  turns(models.TurnStatusInProgress),
	}
	orch, sleeps := newTestOrchestrator(backend, &mockDispatcher{})

	_, err := orch.RunTurn(context.Background(), "Hi")
	if !errors.Is(err, models.ErrTurnTimeout) {
		t.Fatalf("expected ErrTurnTimeout, got %v", err)
	}
	if backend.statusCalls != DefaultMaxPollAttempts {
		t.Errorf("expected %d status checks, got %d", DefaultMaxPollAttempts, backend.statusCalls)
	}
	if *sleeps != DefaultMaxPollAttempts {
		t.Errorf("expected a sleep before every status check, got %d sleeps", *sleeps)
	}
}

func TestRunTurn_UnknownStatusIsNotTerminal(t *testing.T) {
	backend := &mockBackend{
		contextID: "thread_1",
		turnID:    "run_1",
		reply:     "done",
		statuses: []models.Turn{
			{ID: "run_1", Status: "incomplete"},
			{ID: "run_1", Status: models.TurnStatusCompleted},
		},
	}
	orch, _ := newTestOrchestrator(backend, &mockDispatcher{})
	if _, err := orch.RunTurn(context.Background(), "Hi"); err != nil {
		t.Fatalf("expected unknown status to cause another poll cycle, got %v", err)
	}
	if backend.statusCalls != 2 {
		t.Errorf("expected 2 status checks, got %d", backend.statusCalls)
	}
}

func TestRunTurn_RequiresActionDispatchesOnce(t *testing.T) {
	invocation := models.ToolInvocation{ID: "call_1", Name: models.ToolNameCheckAvailability, Arguments: `{"message":"when are you open"}`}
	backend := &mockBackend{
		contextID: "thread_1",
		turnID:    "run_1",
		reply:     "We have openings Tuesday.",
		statuses: []models.Turn{
			{ID: "run_1", Status: models.TurnStatusQueued},
			{ID: "run_1", Status: models.TurnStatusInProgress},
			{ID: "run_1", Status: models.TurnStatusRequiresAction, PendingTools: []models.ToolInvocation{invocation}},
			{ID: "run_1", Status: models.TurnStatusInProgress},
			{ID: "run_1", Status: models.TurnStatusCompleted},
		},
	}
	dispatcher := &mockDispatcher{}
	orch, _ := newTestOrchestrator(backend, dispatcher)

	result, err := orch.RunTurn(context.Background(), "Hi")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Reply != "We have openings Tuesday." {
		t.Errorf("unexpected reply %q", result.Reply)
	}
	if dispatcher.calls != 1 {
		t.Errorf("expected dispatcher called once, got %d", dispatcher.calls)
	}
	if dispatcher.lastText != "Hi" {
		t.Errorf("expected dispatcher to receive original user text, got %q", dispatcher.lastText)
	}
	if len(backend.submitted) != 1 || len(backend.submitted[0]) != 1 {
		t.Fatalf("expected one submitted batch with one result, got %v", backend.submitted)
	}
	if backend.submitted[0][0].ID != "call_1" {
		t.Errorf("expected result for call_1, got %+v", backend.submitted[0][0])
	}
}

func TestRunTurn_DispatchDoesNotConsumeAttempt(t *testing.T) {
	// Script: one requires_action iteration sandwiched between in_progress
	// checks, then completed. With maxAttempts lowered to 3, the turn only
	// finishes if the dispatch iteration is free.
	invocation := models.ToolInvocation{ID: "call_1", Name: models.ToolNameCheckAvailability}
	backend := &mockBackend{
		contextID: "thread_1",
		turnID:    "run_1",
		reply:     "done",
		statuses: []models.Turn{
			{ID: "run_1", Status: models.TurnStatusInProgress},
			{ID: "run_1", Status: models.TurnStatusRequiresAction, PendingTools: []models.ToolInvocation{invocation}},
			{ID: "run_1", Status: models.TurnStatusInProgress},
			{ID: "run_1", Status: models.TurnStatusCompleted},
		},
	}
	orch, _ := newTestOrchestrator(backend, &mockDispatcher{})
	orch.maxAttempts = 3

	if _, err := orch.RunTurn(context.Background(), "Hi"); err != nil {
		t.Fatalf("expected success within 3 counted attempts, got %v", err)
	}
	if backend.statusCalls != 4 {
		t.Errorf("expected 4 status checks, got %d", backend.statusCalls)
	}
}

func TestRunTurn_CorrelationTokenSubmittedAtMostOnce(t *testing.T) {
	// The backend reports the same pending invocation on two consecutive
	// requires_action polls. Only the first may produce a submission.
	invocation := models.ToolInvocation{ID: "call_1", Name: models.ToolNameCheckAvailability}
	requiresAction := models.Turn{ID: "run_1", Status: models.TurnStatusRequiresAction, PendingTools: []models.ToolInvocation{invocation}}
	backend := &mockBackend{
		contextID: "thread_1",
		turnID:    "run_1",
		reply:     "done",
		statuses: []models.Turn{
			requiresAction,
			requiresAction,
			{ID: "run_1", Status: models.TurnStatusCompleted},
		},
	}
	dispatcher := &mockDispatcher{}
	orch, _ := newTestOrchestrator(backend, dispatcher)

	if _, err := orch.RunTurn(context.Background(), "Hi"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if dispatcher.calls != 1 {
		t.Errorf("expected dispatcher called once for repeated token, got %d", dispatcher.calls)
	}
	if len(backend.submitted) != 1 {
		t.Errorf("expected exactly one submission, got %d", len(backend.submitted))
	}
}

func TestRunTurn_SubmitFailureIsFatal(t *testing.T) {
	invocation := models.ToolInvocation{ID: "call_1", Name: models.ToolNameCheckAvailability}
	backend := &mockBackend{
		contextID: "thread_1",
		turnID:    "run_1",
		statuses:  []models.Turn{{ID: "run_1", Status: models.TurnStatusRequiresAction, PendingTools: []models.ToolInvocation{invocation}}},
		submitErr: errors.New("submit rejected"),
	}
	orch, _ := newTestOrchestrator(backend, &mockDispatcher{})
	_, err := orch.RunTurn(context.Background(), "Hi")
	if err == nil || !strings.Contains(err.Error(), "submit rejected") {
		t.Errorf("expected submit failure surfaced, got %v", err)
	}
}

func TestRunTurn_EmptyReplyFails(t *testing.T) {
	backend := &mockBackend{
		contextID: "thread_1",
		turnID:    "run_1",
		reply:     "",
		statuses:  turns(models.TurnStatusCompleted),
	}
	orch, _ := newTestOrchestrator(backend, &mockDispatcher{})
	_, err := orch.RunTurn(context.Background(), "Hi")
	if !errors.Is(err, models.ErrNoReply) {
		t.Errorf("expected ErrNoReply for empty reply, got %v", err)
	}
}

func TestRunTurn_ContextCancelledDuringPoll(t *testing.T) {
	backend := &mockBackend{
		contextID: "thread_1",
		turnID:    "run_1",
		statuses:  turns(models.TurnStatusInProgress),
	}
	orch := NewTurnOrchestrator(backend, &mockDispatcher{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := orch.RunTurn(ctx, "Hi")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context cancellation surfaced, got %v", err)
	}
}


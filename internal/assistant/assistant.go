// Package assistant wraps the OpenAI Assistants (beta threads) API for BookingBridge.
//
// It exposes exactly the six operations the turn orchestration needs: create a
// conversation context, append a user entry, start processing, retrieve
// processing status, submit tool outputs, and list entries. Everything else the
// API offers is deliberately not surfaced.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/BTreeMap/BookingBridge/internal/models"
)

// Opts holds configuration options for the assistant client.
type Opts struct {
	APIKey      string
	AssistantID string
}

// Option defines a configuration option for the assistant client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key, overriding the environment.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithAssistantID sets the assistant identifier, overriding the environment.
func WithAssistantID(id string) Option {
	return func(o *Opts) { o.AssistantID = id }
}

// Client wraps the OpenAI beta threads services for one configured assistant.
type Client struct {
	client      openai.Client
	assistantID string
}

// NewClient initializes an assistant client. Options take precedence over the
// OPENAI_API_KEY and OPENAI_ASSISTANT_ID environment variables.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.AssistantID == "" {
		cfg.AssistantID = os.Getenv("OPENAI_ASSISTANT_ID")
	}
	slog.Debug("Assistant client config loaded",
		"APIKey_set", cfg.APIKey != "",
		"AssistantID_set", cfg.AssistantID != "")

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if cfg.AssistantID == "" {
		return nil, fmt.Errorf("OPENAI_ASSISTANT_ID not set")
	}

	return &Client{
		client:      openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		assistantID: cfg.AssistantID,
	}, nil
}

// CreateContext creates a fresh conversation context (thread) and returns its
// identifier. Each inbound message gets its own context; none are reused.
func (c *Client) CreateContext(ctx context.Context) (string, error) {
	thread, err := c.client.Beta.Threads.New(ctx, openai.BetaThreadNewParams{})
	if err != nil {
		return "", fmt.Errorf("failed to create thread: %w", err)
	}
	if thread == nil {
		return "", fmt.Errorf("thread response was empty")
	}
	slog.Debug("Assistant.CreateContext: thread created", "contextID", thread.ID)
	return thread.ID, nil
}

// AddUserMessage appends userText as a user-authored entry in the context.
func (c *Client) AddUserMessage(ctx context.Context, contextID, userText string) error {
	_, err := c.client.Beta.Threads.Messages.New(ctx, contextID, openai.BetaThreadMessageNewParams{
		Role: openai.BetaThreadMessageNewParamsRoleUser,
		Content: openai.BetaThreadMessageNewParamsContentUnion{
			OfString: openai.String(userText),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to add user message: %w", err)
	}
	return nil
}

// StartTurn starts processing the context and returns the turn identifier.
func (c *Client) StartTurn(ctx context.Context, contextID string) (string, error) {
	run, err := c.client.Beta.Threads.Runs.New(ctx, contextID, openai.BetaThreadRunNewParams{
		AssistantID: c.assistantID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create run: %w", err)
	}
	if run == nil {
		return "", fmt.Errorf("run response was empty")
	}
	slog.Debug("Assistant.StartTurn: run created", "contextID", contextID, "turnID", run.ID)
	return run.ID, nil
}

// GetTurn retrieves the current status of a turn. The context identifier comes
// first; the API addresses runs by thread then run.
func (c *Client) GetTurn(ctx context.Context, contextID, turnID string) (models.Turn, error) {
	run, err := c.client.Beta.Threads.Runs.Get(ctx, contextID, turnID)
	if err != nil {
		return models.Turn{}, fmt.Errorf("failed to retrieve run: %w", err)
	}
	turn := models.Turn{
		ID:     run.ID,
		Status: models.TurnStatus(run.Status),
	}
	if run.LastError.Message != "" {
		turn.ErrorDetail = run.LastError.Message
	}
	if turn.Status == models.TurnStatusRequiresAction {
		for _, call := range run.RequiredAction.SubmitToolOutputs.ToolCalls {
			turn.PendingTools = append(turn.PendingTools, models.ToolInvocation{
				ID:        call.ID,
				Name:      call.Function.Name,
				Arguments: call.Function.Arguments,
			})
		}
	}
	return turn, nil
}

// SubmitToolResults submits one batch of tool outputs for a turn blocked in
// requires_action.
func (c *Client) SubmitToolResults(ctx context.Context, contextID, turnID string, results []models.ToolResult) error {
	outputs := make([]openai.BetaThreadRunSubmitToolOutputsParamsToolOutput, 0, len(results))
	for _, r := range results {
		outputs = append(outputs, openai.BetaThreadRunSubmitToolOutputsParamsToolOutput{
			ToolCallID: openai.String(r.ID),
			Output:     openai.String(r.Output),
		})
	}
	_, err := c.client.Beta.Threads.Runs.SubmitToolOutputs(ctx, contextID, turnID, openai.BetaThreadRunSubmitToolOutputsParams{
		ToolOutputs: outputs,
	})
	if err != nil {
		return fmt.Errorf("failed to submit tool outputs: %w", err)
	}
	slog.Debug("Assistant.SubmitToolResults: outputs submitted", "contextID", contextID, "turnID", turnID, "count", len(outputs))
	return nil
}

// LatestAssistantReply lists entries in the context and returns the text of
// the most recent assistant-authored one. Returns an empty string when no such
// entry exists; the caller decides how to treat that.
func (c *Client) LatestAssistantReply(ctx context.Context, contextID string) (string, error) {
	page, err := c.client.Beta.Threads.Messages.List(ctx, contextID, openai.BetaThreadMessageListParams{
		Order: openai.BetaThreadMessageListParamsOrderDesc,
	})
	if err != nil {
		return "", fmt.Errorf("failed to list messages: %w", err)
	}
	for _, msg := range page.Data {
		if msg.Role != openai.MessageRoleAssistant {
			continue
		}
		for _, block := range msg.Content {
			if block.Type == "text" && block.Text.Value != "" {
				return block.Text.Value, nil
			}
		}
	}
	return "", nil
}

// Package models defines the core data structures for BookingBridge.
//
// It includes types for conversation turns, tool invocations, availability
// slots, and delivery receipts, which are shared across modules.
package models

import (
	"errors"
)

// TurnStatus describes the processing state of one assistant run.
type TurnStatus string

const (
	// TurnStatusQueued means the run is waiting to be picked up by the backend.
	TurnStatusQueued TurnStatus = "queued"
	// TurnStatusInProgress means the backend is actively producing output.
	TurnStatusInProgress TurnStatus = "in_progress"
	// TurnStatusRequiresAction means the backend is blocked on tool outputs.
	TurnStatusRequiresAction TurnStatus = "requires_action"
	// TurnStatusCompleted means the run finished and a reply can be extracted.
	TurnStatusCompleted TurnStatus = "completed"
	// TurnStatusFailed means the backend reported an error for the run.
	TurnStatusFailed TurnStatus = "failed"
	// TurnStatusCancelled means the run was cancelled on the backend side.
	TurnStatusCancelled TurnStatus = "cancelled"
	// TurnStatusExpired means the run exceeded the backend's own deadline.
	TurnStatusExpired TurnStatus = "expired"
)

// IsTerminal reports whether the status ends the poll loop. requires_action is
// transient: it returns to in_progress once tool outputs are submitted.
func (s TurnStatus) IsTerminal() bool {
	switch s {
	case TurnStatusCompleted, TurnStatusFailed, TurnStatusCancelled, TurnStatusExpired:
		return true
	default:
		return false
	}
}

// Error variables for the turn orchestration taxonomy and its collaborators.
var (
	ErrContextCreation = errors.New("assistant backend returned no conversation context")
	ErrTurnCreation    = errors.New("assistant backend returned no turn identifier")
	ErrTurnTimeout     = errors.New("turn did not reach a terminal status in time")
	ErrTurnFailed      = errors.New("turn failed")
	ErrTurnCancelled   = errors.New("turn was cancelled")
	ErrTurnExpired     = errors.New("turn expired")
	ErrNoReply         = errors.New("no assistant reply found in conversation context")
	ErrProvider        = errors.New("scheduling provider request failed")
	ErrChannelSend     = errors.New("outbound channel delivery failed")
)

// ToolInvocation is one external action requested by the assistant backend
// while a turn is in requires_action. Arguments is a JSON-encoded payload.
type ToolInvocation struct {
	ID        string `json:"id"`   // correlation token, opaque to the bridge
	Name      string `json:"name"` // requested action name
	Arguments string `json:"arguments"`
}

// ToolResult is the output for one ToolInvocation, keyed by its correlation
// token. Every invocation in a requires_action batch gets exactly one result.
type ToolResult struct {
	ID     string `json:"id"`
	Output string `json:"output"`
}

// Turn is a point-in-time view of one processing request, as reported by the
// assistant backend. PendingTools is only populated in requires_action.
type Turn struct {
	ID           string
	Status       TurnStatus
	ErrorDetail  string
	PendingTools []ToolInvocation
}

// AvailabilitySlot is one bookable interval offered by the scheduling
// provider. Only slots with Status "available" and both StartTime and
// SchedulingURL present are shown to users.
type AvailabilitySlot struct {
	Status        string `json:"status"`
	StartTime     string `json:"start_time"`
	SchedulingURL string `json:"scheduling_url"`
}

// SlotStatusAvailable is the provider's marker for a bookable slot.
const SlotStatusAvailable = "available"

// TurnReceipt is the webhook caller's view of a completed turn.
type TurnReceipt struct {
	Success   bool   `json:"success"`
	Reply     string `json:"reply"`
	ContextID string `json:"contextId"`
	TurnID    string `json:"turnId"`
}

// TurnRecord is one logged webhook invocation, persisted by the store layer.
// Conversation history itself stays in the assistant backend; this is an
// operational log only.
type TurnRecord struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Body      string `json:"body"`
	Reply     string `json:"reply,omitempty"`
	ContextID string `json:"context_id,omitempty"`
	TurnID    string `json:"turn_id,omitempty"`
	Status    string `json:"status"`
	Time      int64  `json:"time"`
}

// Turn record status values.
const (
	TurnRecordStatusCompleted = "completed"
	TurnRecordStatusFailed    = "failed"
)

// MessageStatus defines the delivery state of an outbound message.
type MessageStatus string

const (
	// MessageStatusSent indicates the channel accepted the message.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusFailed indicates the channel rejected the message.
	MessageStatusFailed MessageStatus = "failed"
)

// Receipt records the delivery state of one outbound message.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// IncomingMessage is one inbound channel message: a sender address and a body.
// From must round-trip byte-for-byte into the outbound reply's recipient.
type IncomingMessage struct {
	From string `json:"From"`
	Body string `json:"Body"`
}

// Validate checks that an inbound message carries the required fields.
func (m *IncomingMessage) Validate() error {
	if m.From == "" {
		return ErrMissingSender
	}
	return nil
}

// ErrMissingSender is returned when an inbound payload has no sender address.
// An empty body is forwarded as-is; only the sender is required.
var ErrMissingSender = errors.New("missing sender identifier")

package flow

import (
	"orderflow.app/engine/internal/model"
)

// Synthetic rule identifiers for transitions decided by the machine itself
// rather than a domain rule.
const (
	RuleIDSupervisorCode = "supervisor-code"
	RuleIDApprovalGate   = "approval-gate"
	RuleIDApprovalHold   = "approval-hold"
	RuleIDAckSLA         = "ack-sla"
)

// MessageContext is the structured context handed to the text-generation
// collaborator. Customer details always precede order progress in the
// composed output ("details first, then progress").
type MessageContext struct {
	CustomerDetails string `json:"customer_details"`
	OrderProgress   string `json:"order_progress"`
	Prompt          string `json:"prompt"`
}

// OutboundAction is a side effect to be delivered after the transition is
// persisted. Delivery is best-effort and independently retryable; it never
// influences the persisted state.
type OutboundAction struct {
	Kind      model.ActionKind
	SessionID string
	Channel   string
	Stage     model.Stage
	RuleIDs   []string
	Text      string // deterministic composed text, used when rendering fails
	Context   MessageContext
}

// Transition is the result of applying one event to a session.
// Applied is false when the event's sequence was already reflected in the
// state (idempotent replay): nothing to persist, nothing to emit.
type Transition struct {
	Applied bool
	State   *model.SessionState
	Record  *model.InteractionRecord
	Actions []OutboundAction
}

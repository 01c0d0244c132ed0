package model

import "time"

// Stage is the conversation's position in its lifecycle state machine.
type Stage string

const (
	StageNew              Stage = "new"
	StageVerifying        Stage = "verifying"
	StageOrdering         Stage = "ordering"
	StageAwaitingApproval Stage = "awaiting_approval"
	StageConfirmed        Stage = "confirmed"
	StageCompleted        Stage = "completed"
	StageSupervisor       Stage = "supervisor"
	StageAbandoned        Stage = "abandoned"
)

// stageRank orders stages along the happy path. Supervisor and abandoned
// sit outside the path.
var stageRank = map[Stage]int{
	StageNew:              0,
	StageVerifying:        1,
	StageOrdering:         2,
	StageAwaitingApproval: 3,
	StageConfirmed:        4,
	StageCompleted:        5,
}

// AtOrPastOrdering reports whether s has reached the order-relevant part of
// the flow, where the acknowledgment SLA applies.
func (s Stage) AtOrPastOrdering() bool {
	rank, ok := stageRank[s]
	return ok && rank >= stageRank[StageOrdering]
}

// Terminal reports whether no further customer-driven transition is expected.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageAbandoned
}

// Profile holds the customer details collected during the conversation.
type Profile struct {
	FirstName    string `json:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
	CompanyName  string `json:"company_name,omitempty"`
	EventAddress string `json:"event_address,omitempty"`
	EventDate    string `json:"event_date,omitempty"`
}

// FullName returns the customer's display name, or "" when unknown.
func (p Profile) FullName() string {
	switch {
	case p.FirstName != "" && p.LastName != "":
		return p.FirstName + " " + p.LastName
	case p.FirstName != "":
		return p.FirstName
	default:
		return p.LastName
	}
}

// OrderState is the order sub-entity of a session.
// PricingApproved transitions false->true only via a manager-approval event.
type OrderState struct {
	GuestCount      *int       `json:"guest_count,omitempty"`
	AgeVerified     *bool      `json:"age_verified,omitempty"`
	Total           int64      `json:"total"`
	PricingApproved bool       `json:"pricing_approved"`
	ApprovedBy      string     `json:"approved_by,omitempty"`
	AcknowledgedAt  *time.Time `json:"acknowledged_at,omitempty"`
}

// SessionState is the durable state of one customer/channel conversation.
// LastSequence is non-decreasing for the session's lifetime; Version is the
// optimistic-concurrency token checked by the store's conditional write.
type SessionState struct {
	SessionID       string      `json:"session_id"`
	Channel         string      `json:"channel"`
	Stage           Stage       `json:"stage"`
	PriorStage      Stage       `json:"prior_stage,omitempty"` // restored on supervisor exit
	Verified        bool        `json:"verified"`
	SupervisorMode  bool        `json:"supervisor_mode"`
	Profile         Profile     `json:"profile"`
	Order           *OrderState `json:"order,omitempty"`
	LastSequence    int64       `json:"last_sequence"`
	LastAckDeadline *time.Time  `json:"last_ack_deadline,omitempty"`
	Version         int64       `json:"version"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// NewSessionState returns the zero-value state for a session that has not
// been persisted yet (version 0, not-yet-created).
func NewSessionState(sessionID, channel string) *SessionState {
	return &SessionState{
		SessionID: sessionID,
		Channel:   channel,
		Stage:     StageNew,
	}
}

// EnsureOrder lazily creates the order sub-entity.
func (s *SessionState) EnsureOrder() *OrderState {
	if s.Order == nil {
		s.Order = &OrderState{}
	}
	return s.Order
}

// Clone returns a deep copy so the transition function can stay pure.
func (s *SessionState) Clone() *SessionState {
	out := *s
	if s.Order != nil {
		order := *s.Order
		if s.Order.GuestCount != nil {
			g := *s.Order.GuestCount
			order.GuestCount = &g
		}
		if s.Order.AgeVerified != nil {
			a := *s.Order.AgeVerified
			order.AgeVerified = &a
		}
		if s.Order.AcknowledgedAt != nil {
			t := *s.Order.AcknowledgedAt
			order.AcknowledgedAt = &t
		}
		out.Order = &order
	}
	if s.LastAckDeadline != nil {
		d := *s.LastAckDeadline
		out.LastAckDeadline = &d
	}
	return &out
}

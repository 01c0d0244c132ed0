package flow

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"orderflow.app/engine/core/config"
	"orderflow.app/engine/internal/model"
	"orderflow.app/engine/internal/rules"
)

// ErrMalformedEvent marks events that can never be processed: no retry will
// fix them, they go straight to the dead-letter stream.
var ErrMalformedEvent = errors.New("malformed event")

// Machine is the pure conversation transition function. It never touches
// storage or the network: given the current state, the active ruleset and one
// event, it produces the next state, the log record and the outbound actions.
// Persistence and delivery are the dispatcher's problem.
type Machine struct {
	cfg config.FlowConfig
}

func NewMachine(cfg config.FlowConfig) *Machine {
	return &Machine{cfg: cfg}
}

// Step applies one event to the session.
//
// The sequence gate makes Step idempotent over at-least-once delivery: an
// event at or below the session's last applied sequence returns
// Applied=false and changes nothing, so redeliveries are free.
func (m *Machine) Step(prev *model.SessionState, rs *model.RuleSet, event model.InteractionEvent) (*Transition, error) {
	if err := validateEvent(event); err != nil {
		return nil, err
	}
	if event.Sequence <= prev.LastSequence {
		return &Transition{Applied: false}, nil
	}

	state := prev.Clone()
	if state.Channel == "" {
		state.Channel = event.Channel
	}
	stageBefore := state.Stage

	var (
		ruleIDs []string
		actions []OutboundAction
	)

	switch {
	case event.Type == model.EventTypeMessage && strings.TrimSpace(event.Text) == m.cfg.SupervisorCode:
		// The supervisor code overrides every stage, including
		// awaiting_approval. The prior stage is restored on exit.
		if !state.SupervisorMode {
			state.PriorStage = state.Stage
			state.SupervisorMode = true
		}
		state.Stage = model.StageSupervisor
		ruleIDs = []string{RuleIDSupervisorCode}
		actions = m.sendAction(state, rs, rules.PromptSupervisorMenu, ruleIDs)

	case event.Type == model.EventTypePricingApproval:
		ruleIDs = []string{RuleIDApprovalGate}
		if state.Stage == model.StageAwaitingApproval {
			order := state.EnsureOrder()
			order.PricingApproved = true
			order.ApprovedBy = event.ApprovedBy
			ack := event.Timestamp
			order.AcknowledgedAt = &ack
			state.Stage = model.StageConfirmed
			actions = m.sendAction(state, rs, rules.PromptApprovalGranted, ruleIDs)
		}
		// An approval for a session not waiting on one is recorded but has
		// no effect; pricing_approved only moves through this gate.

	case event.Type == model.EventTypeDeadlineExpired:
		ruleIDs = []string{RuleIDAckSLA}
		if !state.Stage.Terminal() && !acknowledged(state) {
			state.Stage = model.StageAbandoned
			state.SupervisorMode = false
			state.PriorStage = ""
			actions = append(m.sendAction(state, rs, rules.PromptAbandoned, ruleIDs),
				m.escalateAction(state, ruleIDs))
		}

	case state.Stage == model.StageAwaitingApproval:
		// Customer messages during the approval wait are logged and answered
		// but never advance the flow; only the approval event can.
		ruleIDs = []string{RuleIDApprovalHold}
		mergeProfile(state, event.Text)
		actions = m.sendAction(state, rs, rules.PromptApprovalPending, ruleIDs)

	default:
		mergeProfile(state, event.Text)
		ruleIDs, actions = m.applyRules(state, rs, event)
	}

	m.stampDeadline(state, event.Timestamp)

	state.LastSequence = event.Sequence
	state.UpdatedAt = event.Timestamp
	if state.CreatedAt.IsZero() {
		state.CreatedAt = event.Timestamp
	}

	direction := model.DirectionInbound
	if event.Type == model.EventTypeDeadlineExpired {
		direction = model.DirectionOutbound
	}

	return &Transition{
		Applied: true,
		State:   state,
		Record: &model.InteractionRecord{
			SessionID:      state.SessionID,
			Sequence:       event.Sequence,
			Timestamp:      event.Timestamp,
			Direction:      direction,
			PayloadRef:     event.Text,
			StageBefore:    stageBefore,
			StageAfter:     state.Stage,
			RuleIDsApplied: ruleIDs,
		},
		Actions: actions,
	}, nil
}

// ExpiredEvent builds the synthetic event the sweeper feeds into Step when a
// session blew its acknowledgment deadline. It rides the normal sequence
// gate, so a concurrent customer message that already bumped the sequence
// wins and the abandonment becomes a no-op.
func (m *Machine) ExpiredEvent(state *model.SessionState, now time.Time) model.InteractionEvent {
	return model.InteractionEvent{
		SessionID: state.SessionID,
		Channel:   state.Channel,
		Sequence:  state.LastSequence + 1,
		Timestamp: now,
		Type:      model.EventTypeDeadlineExpired,
	}
}

// applyRules evaluates the ruleset in priority order and applies the first
// matching rule. No match falls back to a clarification message.
func (m *Machine) applyRules(state *model.SessionState, rs *model.RuleSet, event model.InteractionEvent) ([]string, []OutboundAction) {
	text := model.NormalizeText(event.Text)

	for i := range rs.Rules {
		rule := &rs.Rules[i]
		if !rule.Trigger.Matches(state.Stage, event.Type, text) {
			continue
		}
		ruleIDs := []string{rule.ID}
		return ruleIDs, m.applyAction(state, rs, rule.Action, ruleIDs, event)
	}

	return nil, m.sendAction(state, rs, rules.PromptClarify, nil)
}

func (m *Machine) applyAction(state *model.SessionState, rs *model.RuleSet, action model.Action, ruleIDs []string, event model.InteractionEvent) []OutboundAction {
	var out []OutboundAction

	switch action.Kind {
	case model.ActionSetFlag:
		switch action.Flag {
		case model.FlagVerified:
			state.Verified = true
			if state.Profile.FullName() == "" {
				if first, last, ok := extractName(event.Text); ok {
					state.Profile.FirstName = first
					state.Profile.LastName = last
				}
			}
		case model.FlagSupervisorExit:
			if state.SupervisorMode {
				state.SupervisorMode = false
				state.Stage = state.PriorStage
				state.PriorStage = ""
				if state.Stage == "" {
					state.Stage = model.StageNew
				}
			}
		}
	case model.ActionRequestApproval:
		order := state.EnsureOrder()
		order.PricingApproved = false
		order.ApprovedBy = ""
	case model.ActionEscalate:
		out = append(out, m.escalateAction(state, ruleIDs))
	}

	// A supervisor exit restores the prior stage; the rule's NextStage
	// applies everywhere else.
	if action.NextStage != "" && !(action.Kind == model.ActionSetFlag && action.Flag == model.FlagSupervisorExit) {
		state.Stage = action.NextStage
	}
	if action.Kind == model.ActionRequestApproval {
		out = append(out, OutboundAction{
			Kind:      model.ActionRequestApproval,
			SessionID: state.SessionID,
			Channel:   state.Channel,
			Stage:     state.Stage,
			RuleIDs:   ruleIDs,
			Text:      "pricing adjustment requested: " + model.NormalizeText(event.Text),
		})
	}

	if action.PromptKey != "" {
		out = append(out, m.sendAction(state, rs, action.PromptKey, ruleIDs)...)
	}
	return out
}

// stampDeadline maintains the acknowledgment SLA clock. Any transition that
// leaves the session at or past ordering without an acknowledged order arms
// the deadline from the event's timestamp; acknowledgment or a terminal stage
// disarms it.
func (m *Machine) stampDeadline(state *model.SessionState, at time.Time) {
	if state.Stage == model.StageConfirmed {
		order := state.EnsureOrder()
		if order.AcknowledgedAt == nil {
			ack := at
			order.AcknowledgedAt = &ack
		}
	}

	switch {
	case state.Stage.Terminal(), acknowledged(state):
		state.LastAckDeadline = nil
	case state.Stage.AtOrPastOrdering():
		deadline := at.Add(m.cfg.AckSLA)
		state.LastAckDeadline = &deadline
	}
}

func (m *Machine) sendAction(state *model.SessionState, rs *model.RuleSet, promptKey string, ruleIDs []string) []OutboundAction {
	prompt := rs.Prompts.Prompt(promptKey)
	details := customerBlock(state)
	progress := progressBlock(state)
	text := details + "\n\n" + progress
	if prompt != "" {
		text += "\n\n" + prompt
	}
	return []OutboundAction{{
		Kind:      model.ActionSendMessage,
		SessionID: state.SessionID,
		Channel:   state.Channel,
		Stage:     state.Stage,
		RuleIDs:   ruleIDs,
		Text:      text,
		Context: MessageContext{
			CustomerDetails: details,
			OrderProgress:   progress,
			Prompt:          prompt,
		},
	}}
}

func (m *Machine) escalateAction(state *model.SessionState, ruleIDs []string) OutboundAction {
	return OutboundAction{
		Kind:      model.ActionEscalate,
		SessionID: state.SessionID,
		Channel:   state.Channel,
		Stage:     state.Stage,
		RuleIDs:   ruleIDs,
		Text:      "session needs a human agent",
	}
}

func acknowledged(state *model.SessionState) bool {
	return state.Order != nil && state.Order.AcknowledgedAt != nil
}

func validateEvent(event model.InteractionEvent) error {
	switch {
	case event.SessionID == "":
		return fmt.Errorf("%w: missing session id", ErrMalformedEvent)
	case event.Sequence <= 0:
		return fmt.Errorf("%w: sequence %d", ErrMalformedEvent, event.Sequence)
	case event.Timestamp.IsZero():
		return fmt.Errorf("%w: missing timestamp", ErrMalformedEvent)
	}
	switch event.Type {
	case model.EventTypeMessage, model.EventTypePricingApproval, model.EventTypeDeadlineExpired:
		return nil
	default:
		return fmt.Errorf("%w: unknown event type %q", ErrMalformedEvent, event.Type)
	}
}

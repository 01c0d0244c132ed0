package rules

import (
	"orderflow.app/engine/internal/model"
)

// Prompt keys referenced by the default ruleset and the fallback composer.
const (
	PromptGreet            = "greet"
	PromptAskVerify        = "ask_verify"
	PromptAskOrder         = "ask_order"
	PromptOrderUpdate      = "order_update"
	PromptApprovalPending  = "approval_pending"
	PromptApprovalGranted  = "approval_granted"
	PromptConfirmed        = "confirmed"
	PromptCompleted        = "completed"
	PromptCompletedNoOrder = "completed_no_order"
	PromptClarify          = "clarify"
	PromptEscalated        = "escalated"
	PromptSupervisorMenu   = "supervisor_menu"
	PromptSupervisorExit   = "supervisor_exit"
	PromptAbandoned        = "abandoned"
)

var defaultPrompts = model.PromptMap{
	PromptGreet:            "Welcome! I'm the ordering assistant. May I have your full name?",
	PromptAskVerify:        "To get started, please share your full name (first and last).",
	PromptAskOrder:         "Thanks! Let's set up your order. What date is the event, and roughly how many guests?",
	PromptOrderUpdate:      "Noted. Anything else to add, or shall we confirm the order?",
	PromptApprovalPending:  "Your pricing request was passed to a manager for approval. I'll update you here.",
	PromptApprovalGranted:  "Good news - the adjusted pricing was approved.",
	PromptConfirmed:        "Your order is confirmed. We'll be in touch before the event.",
	PromptCompleted:        "All done! Thanks for ordering with us.",
	PromptCompletedNoOrder: "No problem. Reach out whenever you'd like to place an order.",
	PromptClarify:          "Sorry, I didn't catch that. Could you rephrase?",
	PromptEscalated:        "I've asked a human agent to join the conversation.",
	PromptSupervisorMenu:   "Supervisor menu: reply 'exit' to return to the customer flow.",
	PromptSupervisorExit:   "Leaving supervisor mode.",
	PromptAbandoned:        "We haven't heard back, so the order was closed. Message us to start again.",
}

// DefaultRuleSet is the built-in flow used when the rule store is empty or a
// fetched document fails validation. It encodes the standard ordering flow:
// greet, verify identity, collect order details, gate pricing adjustments on
// manager approval, confirm, complete.
func DefaultRuleSet(domainKey string) *model.RuleSet {
	rs := &model.RuleSet{
		DomainKey: domainKey,
		ETag:      "builtin-v1",
		Default:   true,
		Prompts:   defaultPrompts,
		Rules: []model.Rule{
			{
				ID:       "supervisor-exit",
				Priority: 95,
				Trigger: model.Predicate{
					Stages: []model.Stage{model.StageSupervisor},
					Match:  model.MatchRegex,
					Value:  `^(exit|יציאה)$`,
				},
				Action: model.Action{Kind: model.ActionSetFlag, Flag: model.FlagSupervisorExit, PromptKey: PromptSupervisorExit},
			},
			{
				ID:       "supervisor-menu",
				Priority: 94,
				Trigger: model.Predicate{
					Stages: []model.Stage{model.StageSupervisor},
					Match:  model.MatchAny,
				},
				Action: model.Action{Kind: model.ActionSendMessage, PromptKey: PromptSupervisorMenu},
			},
			{
				ID:       "greet",
				Priority: 90,
				Trigger: model.Predicate{
					Stages: []model.Stage{model.StageNew},
					Match:  model.MatchAny,
				},
				Action: model.Action{Kind: model.ActionSendMessage, NextStage: model.StageVerifying, PromptKey: PromptGreet},
			},
			{
				ID:       "escalate-human",
				Priority: 85,
				Trigger: model.Predicate{
					Match: model.MatchRegex,
					Value: `(נציג|human|agent)`,
				},
				Action: model.Action{Kind: model.ActionEscalate, PromptKey: PromptEscalated},
			},
			{
				ID:       "verify-name",
				Priority: 80,
				Trigger: model.Predicate{
					Stages: []model.Stage{model.StageVerifying},
					Match:  model.MatchRegex,
					Value:  `^\S+\s+\S+`,
				},
				Action: model.Action{Kind: model.ActionSetFlag, Flag: model.FlagVerified, NextStage: model.StageOrdering, PromptKey: PromptAskOrder},
			},
			{
				ID:       "verify-confirm",
				Priority: 75,
				Trigger: model.Predicate{
					Stages: []model.Stage{model.StageVerifying},
					Match:  model.MatchPositive,
				},
				Action: model.Action{Kind: model.ActionSetFlag, Flag: model.FlagVerified, NextStage: model.StageOrdering, PromptKey: PromptAskOrder},
			},
			{
				ID:       "verify-retry",
				Priority: 70,
				Trigger: model.Predicate{
					Stages: []model.Stage{model.StageVerifying},
					Match:  model.MatchAny,
				},
				Action: model.Action{Kind: model.ActionSendMessage, PromptKey: PromptAskVerify},
			},
			{
				ID:       "pricing-adjust",
				Priority: 65,
				Trigger: model.Predicate{
					Stages: []model.Stage{model.StageOrdering},
					Match:  model.MatchRegex,
					Value:  `(הנחה|discount|price|מחיר)`,
				},
				Action: model.Action{Kind: model.ActionRequestApproval, NextStage: model.StageAwaitingApproval, PromptKey: PromptApprovalPending},
			},
			{
				ID:       "order-confirm",
				Priority: 60,
				Trigger: model.Predicate{
					Stages: []model.Stage{model.StageOrdering},
					Match:  model.MatchPositive,
				},
				Action: model.Action{Kind: model.ActionSendMessage, NextStage: model.StageConfirmed, PromptKey: PromptConfirmed},
			},
			{
				ID:       "order-decline",
				Priority: 55,
				Trigger: model.Predicate{
					Stages: []model.Stage{model.StageOrdering},
					Match:  model.MatchNegative,
				},
				Action: model.Action{Kind: model.ActionSendMessage, NextStage: model.StageCompleted, PromptKey: PromptCompletedNoOrder},
			},
			{
				ID:       "order-details",
				Priority: 50,
				Trigger: model.Predicate{
					Stages: []model.Stage{model.StageOrdering},
					Match:  model.MatchNumeric,
				},
				Action: model.Action{Kind: model.ActionSendMessage, PromptKey: PromptOrderUpdate},
			},
			{
				ID:       "wrapup",
				Priority: 40,
				Trigger: model.Predicate{
					Stages: []model.Stage{model.StageConfirmed},
					Match:  model.MatchPositive,
				},
				Action: model.Action{Kind: model.ActionSendMessage, NextStage: model.StageCompleted, PromptKey: PromptCompleted},
			},
		},
	}

	// The built-in set must always validate; panic here means a programming
	// error, not bad external data.
	if err := Validate(rs); err != nil {
		panic("default ruleset invalid: " + err.Error())
	}
	sortRules(rs.Rules)
	return rs
}

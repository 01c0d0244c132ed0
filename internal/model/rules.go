package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// MatchKind is the closed predicate vocabulary evaluated against the
// normalized (trimmed, lower-cased) message text.
type MatchKind string

const (
	MatchAny      MatchKind = "any"
	MatchEquals   MatchKind = "equals"
	MatchContains MatchKind = "contains"
	MatchRegex    MatchKind = "regex"
	MatchPositive MatchKind = "positive" // yes/confirmation keywords
	MatchNegative MatchKind = "negative" // no/refusal keywords
	MatchNumeric  MatchKind = "numeric"  // contains a number
)

// positive/negative keyword sets cover the Hebrew flow plus English
// equivalents used in tests and ops tooling.
var (
	positiveKeywords = []string{"כן", "בוודאי", "כמובן", "בטח", "נכון", "מאשר", "yes", "ok", "sure", "confirm"}
	negativeKeywords = []string{"לא", "לאו", "no", "cancel", "לא רוצה"}
	numericPattern   = regexp.MustCompile(`\d+`)
)

// Predicate is a rule trigger. Empty Stages means any stage, empty EventType
// means any event type, and Match defaults to MatchAny. A predicate with no
// constraint at all is invalid.
type Predicate struct {
	Stages    []Stage   `json:"stages,omitempty"`
	EventType EventType `json:"event_type,omitempty"`
	Match     MatchKind `json:"match,omitempty"`
	Value     string    `json:"value,omitempty"`

	re *regexp.Regexp
}

// Compile validates the predicate and pre-compiles its regex, if any.
// Called once at ruleset load time so evaluation never fails.
func (p *Predicate) Compile() error {
	if len(p.Stages) == 0 && p.EventType == "" && (p.Match == "" || p.Match == MatchAny) {
		return fmt.Errorf("empty trigger predicate")
	}
	switch p.Match {
	case "", MatchAny, MatchPositive, MatchNegative, MatchNumeric:
	case MatchEquals, MatchContains:
		if p.Value == "" {
			return fmt.Errorf("match %q requires a value", p.Match)
		}
	case MatchRegex:
		if p.Value == "" {
			return fmt.Errorf("match regex requires a value")
		}
		re, err := regexp.Compile(p.Value)
		if err != nil {
			return fmt.Errorf("invalid regex %q: %w", p.Value, err)
		}
		p.re = re
	default:
		return fmt.Errorf("unknown match kind %q", p.Match)
	}
	return nil
}

// Matches evaluates the predicate against the session stage, the event type
// and the normalized message text.
func (p *Predicate) Matches(stage Stage, eventType EventType, text string) bool {
	if len(p.Stages) > 0 {
		found := false
		for _, s := range p.Stages {
			if s == stage {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if p.EventType != "" && p.EventType != eventType {
		return false
	}
	switch p.Match {
	case "", MatchAny:
		return true
	case MatchEquals:
		return text == NormalizeText(p.Value)
	case MatchContains:
		return strings.Contains(text, NormalizeText(p.Value))
	case MatchRegex:
		if p.re == nil {
			re, err := regexp.Compile(p.Value)
			if err != nil {
				return false
			}
			p.re = re
		}
		return p.re.MatchString(text)
	case MatchPositive:
		return containsAny(text, positiveKeywords) && !containsAny(text, negativeKeywords)
	case MatchNegative:
		return containsAny(text, negativeKeywords)
	case MatchNumeric:
		return numericPattern.MatchString(text)
	default:
		return false
	}
}

// NormalizeText lower-cases and trims message text for predicate evaluation.
func NormalizeText(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// ActionKind is the closed set of things a rule can do.
type ActionKind string

const (
	ActionSendMessage     ActionKind = "send_message"
	ActionRequestApproval ActionKind = "request_approval"
	ActionEscalate        ActionKind = "escalate"
	ActionSetFlag         ActionKind = "set_flag"
)

// Flags settable by ActionSetFlag. pricing_approved is deliberately absent:
// it only moves via a manager-approval event.
const (
	FlagVerified       = "verified"
	FlagSupervisorExit = "supervisor_exit"
)

// Action is what a matched rule does: an optional stage transition plus one
// side effect. Exactly one Kind per rule.
type Action struct {
	Kind      ActionKind `json:"kind"`
	NextStage Stage      `json:"next_stage,omitempty"`
	PromptKey string     `json:"prompt_key,omitempty"`
	Flag      string     `json:"flag,omitempty"`
}

// Validate checks the action's shape at load time.
func (a Action) Validate() error {
	switch a.Kind {
	case ActionSendMessage, ActionRequestApproval, ActionEscalate:
	case ActionSetFlag:
		if a.Flag != FlagVerified && a.Flag != FlagSupervisorExit {
			return fmt.Errorf("unknown flag %q", a.Flag)
		}
	default:
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
	return nil
}

// Rule couples a trigger predicate with exactly one action. Rules are
// evaluated in descending Priority, ties broken by ascending ID.
type Rule struct {
	ID       string    `json:"id"`
	Priority int       `json:"priority"`
	Trigger  Predicate `json:"trigger"`
	Action   Action    `json:"action"`
}

// RuleSet is the cached, validated projection of an externally owned rule
// document. Read-only to the state machine; refreshed by the loader.
type RuleSet struct {
	DomainKey string    `json:"domain_key"`
	ETag      string    `json:"etag,omitempty"`
	Rules     []Rule    `json:"rules"`
	Prompts   PromptMap `json:"prompts,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
	Degraded  bool      `json:"degraded,omitempty"` // served stale after a fetch failure
	Default   bool      `json:"default,omitempty"`  // built-in fallback ruleset
}

// PromptMap maps prompt keys referenced by send_message actions to the
// deterministic message templates used when the renderer is unavailable.
type PromptMap map[string]string

// Prompt returns the template for key, or "" when absent.
func (m PromptMap) Prompt(key string) string {
	if m == nil {
		return ""
	}
	return m[key]
}

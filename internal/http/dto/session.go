package dto

import (
	"time"

	"orderflow.app/engine/internal/model"
)

type SessionResponse struct {
	SessionID       string            `json:"session_id"`
	Channel         string            `json:"channel"`
	Stage           string            `json:"stage"`
	Verified        bool              `json:"verified"`
	SupervisorMode  bool              `json:"supervisor_mode"`
	Profile         model.Profile     `json:"profile"`
	Order           *model.OrderState `json:"order,omitempty"`
	LastSequence    int64             `json:"last_sequence"`
	LastAckDeadline *time.Time        `json:"last_ack_deadline,omitempty"`
	Version         int64             `json:"version"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

func NewSessionResponse(state *model.SessionState) SessionResponse {
	return SessionResponse{
		SessionID:       state.SessionID,
		Channel:         state.Channel,
		Stage:           string(state.Stage),
		Verified:        state.Verified,
		SupervisorMode:  state.SupervisorMode,
		Profile:         state.Profile,
		Order:           state.Order,
		LastSequence:    state.LastSequence,
		LastAckDeadline: state.LastAckDeadline,
		Version:         state.Version,
		UpdatedAt:       state.UpdatedAt,
	}
}

type InteractionResponse struct {
	Sequence       int64     `json:"sequence"`
	Timestamp      time.Time `json:"timestamp"`
	Direction      string    `json:"direction"`
	StageBefore    string    `json:"stage_before"`
	StageAfter     string    `json:"stage_after"`
	RuleIDsApplied []string  `json:"rule_ids_applied,omitempty"`
}

func NewInteractionResponses(records []model.InteractionRecord) []InteractionResponse {
	out := make([]InteractionResponse, len(records))
	for i, r := range records {
		out[i] = InteractionResponse{
			Sequence:       r.Sequence,
			Timestamp:      r.Timestamp,
			Direction:      string(r.Direction),
			StageBefore:    string(r.StageBefore),
			StageAfter:     string(r.StageAfter),
			RuleIDsApplied: r.RuleIDsApplied,
		}
	}
	return out
}

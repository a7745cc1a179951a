package models

import (
	"go-supervisor/pkg/payload"
)

// PlanRequest is what the supervisor hands to a planner.
type PlanRequest struct {
	Task    string         `json:"task"`
	Agents  []string       `json:"agents"`
	Plan    []ToDo         `json:"current_plan"`
	History []AgentSummary `json:"history"`
	Context payload.Map    `json:"context_metadata"`
}

// PlanDecision is the JSON object a planner answers with.
type PlanDecision struct {
	PlanUpdate     []ToDo `json:"plan_update"`
	ActiveAgent    string `json:"active_agent"`
	TerminalStatus Status `json:"terminal_status"`
	Notes          string `json:"notes"`
}

// HandlerResult is the raw exchange with a language model.
type HandlerResult struct {
	Question string
	Answer   string
	Error    error
}

package models

import (
	"go-supervisor/pkg/payload"
)

type EventType string

const (
	EventStatusUpdate EventType = "status_update"
	EventToolCall     EventType = "tool_call"
	EventFinal        EventType = "final"
)

// Event is one frame of a run's stream.
type Event struct {
	Type EventType `json:"event_type"`
	Data any       `json:"data"`
}

func (e Event) Final() bool {
	return e.Type == EventFinal
}

type StatusUpdate struct {
	ActiveAgent *string `json:"active_agent"`
	Node        string  `json:"node"`
	Status      Status  `json:"status"`
	Step        int     `json:"step"`
}

type ToolCallData struct {
	Tool        string      `json:"tool"`
	Args        payload.Map `json:"args"`
	ToolCallID  string      `json:"tool_call_id"`
	Agent       string      `json:"agent"`
	Interactive bool        `json:"interactive"`
}

type FinalData struct {
	Status FinalStatus  `json:"status"`
	Output string       `json:"output"`
	RunID  string       `json:"run_id"`
	Error  *ErrorDetail `json:"error,omitempty"`
}

func NewStatusUpdate(node string, state SupervisorState, step int) Event {
	var active *string
	if state.ActiveAgent != "" {
		name := state.ActiveAgent
		active = &name
	}
	return Event{Type: EventStatusUpdate, Data: StatusUpdate{
		ActiveAgent: active,
		Node:        node,
		Status:      state.Status,
		Step:        step,
	}}
}

func NewToolCallEvent(call ToolCall) Event {
	return Event{Type: EventToolCall, Data: ToolCallData{
		Tool:        call.Tool,
		Args:        call.Args.Clone(),
		ToolCallID:  call.ID,
		Agent:       call.Agent,
		Interactive: call.Interactive,
	}}
}

func NewFinalEvent(result Result) Event {
	return Event{Type: EventFinal, Data: FinalData{
		Status: result.Status,
		Output: result.Output,
		RunID:  result.RunID,
		Error:  result.Error,
	}}
}

package models

import (
	"errors"
	"fmt"
	"go-supervisor/pkg/memory/buffer"
	"go-supervisor/pkg/payload"
	"sort"
)

// Status is the supervisor's control status for a run.
type Status string

const (
	StatusRunning  Status = "RUNNING"
	StatusDone     Status = "DONE"     // terminal
	StatusEscalate Status = "ESCALATE" // terminal
)

func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusEscalate
}

func (s Status) Valid() bool {
	return s == StatusRunning || s.Terminal()
}

type ToDoStatus string

const (
	ToDoPending    ToDoStatus = "PENDING"
	ToDoInProgress ToDoStatus = "IN_PROGRESS"
	ToDoDone       ToDoStatus = "DONE"
	ToDoBlocked    ToDoStatus = "BLOCKED"
)

func (s ToDoStatus) Valid() bool {
	switch s {
	case ToDoPending, ToDoInProgress, ToDoDone, ToDoBlocked:
		return true
	}
	return false
}

// Actionable reports whether an agent can still work on a ToDo in this status.
func (s ToDoStatus) Actionable() bool {
	return s == ToDoPending || s == ToDoInProgress
}

type AgentResult string

const (
	ResultCompleted       AgentResult = "COMPLETED"
	ResultNeedsAssistance AgentResult = "NEEDS_ASSISTANCE"
	ResultFailed          AgentResult = "FAILED"
)

func (r AgentResult) Valid() bool {
	return r == ResultCompleted || r == ResultNeedsAssistance || r == ResultFailed
}

// ToDo is a unit of planned work. Only the supervisor mutates it.
type ToDo struct {
	ID          string      `json:"id"`
	Description string      `json:"description"`
	Status      ToDoStatus  `json:"status"`
	OwnerAgent  string      `json:"owner_agent,omitempty"`
	ParentID    string      `json:"parent_id,omitempty"`
	Metadata    payload.Map `json:"metadata,omitempty"`
}

func (t ToDo) Clone() ToDo {
	t.Metadata = t.Metadata.Clone()
	return t
}

// AgentSummary is the only thing an agent step hands back to the supervisor.
type AgentSummary struct {
	AgentName                     string      `json:"agent_name"`
	StepID                        string      `json:"step_id"`
	Result                        AgentResult `json:"result"`
	ShortSummary                  string      `json:"short_summary"`
	KeyDecisions                  []string    `json:"key_decisions"`
	NextInstructionsForSupervisor string      `json:"next_instructions_for_supervisor"`
}

func (s AgentSummary) Clone() AgentSummary {
	if s.KeyDecisions != nil {
		s.KeyDecisions = append([]string(nil), s.KeyDecisions...)
	}
	return s
}

// SupervisorState is the root planning and control record of a run.
type SupervisorState struct {
	TaskID          string         `json:"task_id"`
	ContextID       string         `json:"context_id,omitempty"`
	Task            string         `json:"task"`
	ContextMetadata payload.Map    `json:"context_metadata,omitempty"`
	Status          Status         `json:"status"`
	Plan            []ToDo         `json:"plan"`
	History         []AgentSummary `json:"history"`
	ActiveAgent     string         `json:"active_agent,omitempty"`
	Notes           string         `json:"notes,omitempty"`
	// Reviewed is the number of history entries the supervisor has already consumed.
	Reviewed int `json:"reviewed"`
	// Failures counts consecutive FAILED summaries per ToDo id.
	Failures map[string]int `json:"failures,omitempty"`
}

func (s SupervisorState) Clone() SupervisorState {
	s.ContextMetadata = s.ContextMetadata.Clone()
	if s.Plan != nil {
		plan := make([]ToDo, len(s.Plan))
		for i, t := range s.Plan {
			plan[i] = t.Clone()
		}
		s.Plan = plan
	}
	if s.History != nil {
		history := make([]AgentSummary, len(s.History))
		for i, h := range s.History {
			history[i] = h.Clone()
		}
		s.History = history
	}
	if s.Failures != nil {
		failures := make(map[string]int, len(s.Failures))
		for k, v := range s.Failures {
			failures[k] = v
		}
		s.Failures = failures
	}
	return s
}

// FindToDo returns the plan index of the ToDo with the given id.
func (s SupervisorState) FindToDo(id string) (int, bool) {
	for i, t := range s.Plan {
		if t.ID == id {
			return i, true
		}
	}
	return -1, false
}

// AllDone reports whether a non-empty plan has every ToDo DONE.
func (s SupervisorState) AllDone() bool {
	if len(s.Plan) == 0 {
		return false
	}
	for _, t := range s.Plan {
		if t.Status != ToDoDone {
			return false
		}
	}
	return true
}

// Unreviewed returns the history entries the supervisor has not consumed yet.
func (s SupervisorState) Unreviewed() []AgentSummary {
	if s.Reviewed >= len(s.History) {
		return nil
	}
	return s.History[s.Reviewed:]
}

// Handoff appends an agent's summary to the history and returns control to the
// supervisor. The status is left untouched.
func (s SupervisorState) Handoff(summary AgentSummary) SupervisorState {
	out := s.Clone()
	out.History = append(out.History, summary.Clone())
	out.ActiveAgent = ""
	return out
}

// SelectToDo picks the ToDo an agent owns next: the first PENDING or IN_PROGRESS
// ToDo owned by agent in plan order, ties broken by the lowest id.
func SelectToDo(plan []ToDo, agent string) (ToDo, bool) {
	type candidate struct {
		index int
		todo  ToDo
	}
	var candidates []candidate
	for i, t := range plan {
		if t.OwnerAgent == agent && t.Status.Actionable() {
			candidates = append(candidates, candidate{index: i, todo: t})
		}
	}
	if len(candidates) == 0 {
		return ToDo{}, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].index != candidates[j].index {
			return candidates[i].index < candidates[j].index
		}
		return candidates[i].todo.ID < candidates[j].todo.ID
	})
	return candidates[0].todo.Clone(), true
}

// ValidatePlan checks ids are unique and non-empty, statuses are known and
// parents reference ToDos in the same plan.
func ValidatePlan(plan []ToDo) error {
	seen := make(map[string]struct{}, len(plan))
	for _, t := range plan {
		if t.ID == "" {
			return errors.New("todo without id")
		}
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("duplicate todo id %q", t.ID)
		}
		seen[t.ID] = struct{}{}
		if !t.Status.Valid() {
			return fmt.Errorf("todo %q: invalid status %q", t.ID, t.Status)
		}
	}
	for _, t := range plan {
		if t.ParentID == "" {
			continue
		}
		if t.ParentID == t.ID {
			return fmt.Errorf("todo %q is its own parent", t.ID)
		}
		if _, ok := seen[t.ParentID]; !ok {
			return fmt.Errorf("todo %q: unknown parent %q", t.ID, t.ParentID)
		}
	}
	return nil
}

type ToolEventStatus string

const (
	ToolRequested ToolEventStatus = "requested"
	ToolCompleted ToolEventStatus = "completed"
	ToolFailed    ToolEventStatus = "failed"
	ToolTimedOut  ToolEventStatus = "timed_out"
)

// ToolCall is a structured tool request issued by an agent.
type ToolCall struct {
	ID          string      `json:"tool_call_id"`
	Tool        string      `json:"tool"`
	Args        payload.Map `json:"args"`
	Agent       string      `json:"agent"`
	StepID      string      `json:"step_id"`
	Interactive bool        `json:"interactive"`
}

func (c ToolCall) Clone() ToolCall {
	c.Args = c.Args.Clone()
	return c
}

// ToolEvent records a tool call and, once known, its outcome.
type ToolEvent struct {
	ToolCall
	Status ToolEventStatus `json:"status"`
	Result any             `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// ToolReply is the external answer to an interactive tool call.
type ToolReply struct {
	ToolCallID string `json:"tool_call_id"`
	Value      any    `json:"value"`
}

// AgentState is scratch state owned by whichever agent is active.
type AgentState struct {
	Messages       buffer.Transcript `json:"messages"`
	ToolEvents     []ToolEvent       `json:"tool_events"`
	RecursionDepth int               `json:"recursion_depth"`
	Scratchpad     payload.Map       `json:"scratchpad"`
	// Pending is set while the run waits for a reply to an interactive tool call.
	Pending *ToolCall `json:"pending,omitempty"`
}

func NewAgentState() AgentState {
	return AgentState{
		Messages:   buffer.Transcript{},
		ToolEvents: []ToolEvent{},
		Scratchpad: payload.Map{},
	}
}

func (a AgentState) Clone() AgentState {
	a.Messages = a.Messages.Clone()
	if a.ToolEvents != nil {
		events := make([]ToolEvent, len(a.ToolEvents))
		for i, e := range a.ToolEvents {
			e.ToolCall = e.ToolCall.Clone()
			e.Result = payload.CloneValue(e.Result)
			events[i] = e
		}
		a.ToolEvents = events
	}
	a.Scratchpad = a.Scratchpad.Clone()
	if a.Pending != nil {
		p := a.Pending.Clone()
		a.Pending = &p
	}
	return a
}

// EventsFor returns the tool events an agent recorded for one ToDo, in order.
func (a AgentState) EventsFor(stepID string) []ToolEvent {
	var out []ToolEvent
	for _, e := range a.ToolEvents {
		if e.StepID == stepID {
			out = append(out, e)
		}
	}
	return out
}

// GraphState is the full checkpointed unit of a run.
type GraphState struct {
	Supervisor SupervisorState `json:"supervisor"`
	Agent      AgentState      `json:"agent"`
}

// NewGraphState builds the initial state of a run.
func NewGraphState(taskID, contextID, task string, metadata payload.Map) GraphState {
	return GraphState{
		Supervisor: SupervisorState{
			TaskID:          taskID,
			ContextID:       contextID,
			Task:            task,
			ContextMetadata: metadata.Clone(),
			Status:          StatusRunning,
			Plan:            []ToDo{},
			History:         []AgentSummary{},
		},
		Agent: NewAgentState(),
	}
}

func (g GraphState) Clone() GraphState {
	return GraphState{Supervisor: g.Supervisor.Clone(), Agent: g.Agent.Clone()}
}

// Package agents defines the contract between the execution driver and the
// specialist agents it routes work to.
package agents

import (
	"context"
	"fmt"
	"go-supervisor/pkg/memory/buffer"
	"go-supervisor/pkg/models"
	"go-supervisor/pkg/payload"
	"sort"
)

// Input is everything an agent may see during one invocation. It never
// contains the supervisor's state.
type Input struct {
	// ToDo is the work item routed to the agent, nil when it owns none.
	ToDo  *models.ToDo
	State models.AgentState
}

// Action is the outcome of one invocation: either a tool call or the agent's
// single summary.
type Action struct {
	ToolCall   *models.ToolCall
	Summary    *models.AgentSummary
	Messages   []buffer.Message
	Scratchpad payload.Map
}

// Agent is one specialist execution unit.
type Agent interface {
	Name() string
	Act(ctx context.Context, in Input) (Action, error)
}

// Reserved node names an agent may not use.
var reserved = map[string]bool{"supervisor": true, "finalizer": true, "hitl_escalation": true, "": true}

// Registry maps agent names to agents.
type Registry struct {
	agents map[string]Agent
}

func NewRegistry(list ...Agent) (*Registry, error) {
	r := &Registry{agents: make(map[string]Agent, len(list))}
	for _, a := range list {
		name := a.Name()
		if reserved[name] {
			return nil, fmt.Errorf("agent name %q is reserved", name)
		}
		if _, dup := r.agents[name]; dup {
			return nil, fmt.Errorf("duplicate agent %q", name)
		}
		r.agents[name] = a
	}
	return r, nil
}

func (r *Registry) Get(name string) (Agent, bool) {
	a, ok := r.agents[name]
	return a, ok
}

// Names returns the registered agent names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.agents))
	for n := range r.agents {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NoWork is the summary an agent returns when it is invoked without an owned
// pending ToDo.
func NoWork(agent string) Action {
	return Action{Summary: &models.AgentSummary{
		AgentName:                     agent,
		Result:                        models.ResultCompleted,
		ShortSummary:                  "no work found for " + agent,
		KeyDecisions:                  []string{},
		NextInstructionsForSupervisor: "No pending todo is owned by this agent; continue with the plan.",
	}}
}

// Call builds a tool call action for the current ToDo.
func Call(tool string, args payload.Map) Action {
	return Action{ToolCall: &models.ToolCall{Tool: tool, Args: args}}
}

// Finish builds a summary action.
func Finish(summary models.AgentSummary) Action {
	return Action{Summary: &summary}
}

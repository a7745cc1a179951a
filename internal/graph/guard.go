package graph

import (
	"go-supervisor/pkg/models"
)

const DefaultRecursionLimit = 5

// Guard bounds how many tool calls an agent may issue in a row before it
// produces a summary.
type Guard struct {
	limit int
}

func NewGuard(limit int) Guard {
	if limit <= 0 {
		limit = DefaultRecursionLimit
	}
	return Guard{limit: limit}
}

func (g Guard) Limit() int {
	return g.limit
}

// Check runs before an agent executes. Once the agent has issued limit tool
// calls without a summary, the next invocation would exceed the bound and is
// refused.
func (g Guard) Check(agent string, state models.AgentState) (models.AgentState, error) {
	if state.RecursionDepth >= g.limit {
		return state, &models.RecursionLimitError{Agent: agent, Depth: state.RecursionDepth, Limit: g.limit}
	}
	return state, nil
}

// Observe updates the depth after an agent acted: a tool call deepens it, a
// summary resets it.
func (g Guard) Observe(state models.AgentState, toolCall bool) models.AgentState {
	if toolCall {
		state.RecursionDepth++
	} else {
		state.RecursionDepth = 0
	}
	return state
}

// Synthesize builds the FAILED summary handed to the supervisor instead of
// invoking an agent that hit the limit.
func (g Guard) Synthesize(agent, stepID string, err *models.RecursionLimitError) models.AgentSummary {
	return models.AgentSummary{
		AgentName:                     agent,
		StepID:                        stepID,
		Result:                        models.ResultFailed,
		ShortSummary:                  string(models.CodeRecursionLimit),
		KeyDecisions:                  []string{},
		NextInstructionsForSupervisor: err.Error(),
	}
}

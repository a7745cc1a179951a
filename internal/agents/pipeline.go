package agents

import (
	"context"
	"fmt"
	"go-supervisor/pkg/models"
	"go-supervisor/pkg/payload"
	"go-supervisor/pkg/tools"
	"strings"
)

// Results holds the completed tool results of the current ToDo by tool name.
type Results map[tools.Tool]payload.Map

// Summary returns the "summary" field of a tool result.
func (r Results) Summary(tool tools.Tool) string {
	s, _ := r[tool].GetString("summary")
	return s
}

// Stage is one tool call of a pipeline. Args returning nil skips the stage.
type Stage struct {
	Tool tools.Tool
	Args func(todo models.ToDo, results Results) payload.Map
}

// Summarizer writes the short summary of finished work.
type Summarizer interface {
	Summarize(ctx context.Context, agent string, todo models.ToDo, results Results) (string, error)
}

// Pipeline is an agent that runs a fixed sequence of tools for its ToDo, one
// call per invocation, optionally asks a human to approve the outcome and then
// reports a single summary.
type Pipeline struct {
	AgentName  string
	Stages     []Stage
	Approval   Stage
	Summarizer Summarizer
}

func (p *Pipeline) Name() string {
	return p.AgentName
}

func (p *Pipeline) Act(ctx context.Context, in Input) (Action, error) {
	if in.ToDo == nil {
		return NoWork(p.AgentName), nil
	}
	todo := *in.ToDo
	results := collect(in.State, todo.ID)

	for _, stage := range p.Stages {
		if _, ok := results[stage.Tool]; ok {
			continue
		}
		args := stage.Args(todo, results)
		if args == nil {
			continue
		}
		// a failed tool ends the dispatch; the supervisor decides what comes next
		if last, ok := lastEvent(in.State, todo.ID, stage.Tool); ok {
			return p.failed(todo, fmt.Sprintf("%s %s: %s", stage.Tool, last.Status, last.Error)), nil
		}
		return Call(string(stage.Tool), args), nil
	}

	if todo.Metadata.GetBool("require_approval") && p.Approval.Tool != "" {
		last, ok := lastEvent(in.State, todo.ID, p.Approval.Tool)
		switch {
		case !ok:
			return Call(string(p.Approval.Tool), p.Approval.Args(todo, results)), nil
		case last.Status != models.ToolCompleted:
			return p.failed(todo, fmt.Sprintf("approval request %s: %s", last.Status, last.Error)), nil
		case !Approved(last.Result):
			return Finish(models.AgentSummary{
				AgentName:                     p.AgentName,
				StepID:                        todo.ID,
				Result:                        models.ResultNeedsAssistance,
				ShortSummary:                  "approval was rejected",
				KeyDecisions:                  p.decisions(todo, results),
				NextInstructionsForSupervisor: fmt.Sprintf("ESCALATE: the reviewer rejected the result of %s", todo.ID),
			}), nil
		}
	}

	short, err := p.summarize(ctx, todo, results)
	if err != nil {
		return Action{}, fmt.Errorf("summarize: %w", err)
	}
	return Action{
		Summary: &models.AgentSummary{
			AgentName:                     p.AgentName,
			StepID:                        todo.ID,
			Result:                        models.ResultCompleted,
			ShortSummary:                  short,
			KeyDecisions:                  p.decisions(todo, results),
			NextInstructionsForSupervisor: fmt.Sprintf("%s is complete; continue with the plan.", todo.ID),
		},
		Scratchpad: payload.Map{todo.ID: short},
	}, nil
}

func (p *Pipeline) summarize(ctx context.Context, todo models.ToDo, results Results) (string, error) {
	if p.Summarizer != nil {
		return p.Summarizer.Summarize(ctx, p.AgentName, todo, results)
	}
	var parts []string
	for _, stage := range p.Stages {
		if s := results.Summary(stage.Tool); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return "completed " + todo.Description, nil
	}
	return strings.Join(parts, "; "), nil
}

func (p *Pipeline) decisions(todo models.ToDo, results Results) []string {
	out := []string{}
	for _, stage := range p.Stages {
		if _, ok := results[stage.Tool]; ok {
			out = append(out, "used "+string(stage.Tool))
		}
	}
	if todo.Metadata.GetBool("require_approval") {
		out = append(out, "requested human approval")
	}
	return out
}

func (p *Pipeline) failed(todo models.ToDo, reason string) Action {
	return Finish(models.AgentSummary{
		AgentName:                     p.AgentName,
		StepID:                        todo.ID,
		Result:                        models.ResultFailed,
		ShortSummary:                  reason,
		KeyDecisions:                  []string{},
		NextInstructionsForSupervisor: fmt.Sprintf("%s could not finish %s: %s", p.AgentName, todo.ID, reason),
	})
}

// Approved interprets the reply to an approval request. Accepted forms are a
// bool, a string such as "approve", or an object with an "approved" bool or a
// "choice"/"action" string.
func Approved(reply any) bool {
	switch v := reply.(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "approve", "approved", "yes", "ok", "accept":
			return true
		}
	case map[string]any:
		if b, ok := v["approved"].(bool); ok {
			return b
		}
		for _, key := range []string{"choice", "action"} {
			if s, ok := v[key].(string); ok {
				return Approved(s)
			}
		}
	}
	return false
}

func collect(state models.AgentState, stepID string) Results {
	out := Results{}
	for _, e := range state.EventsFor(stepID) {
		if e.Status != models.ToolCompleted {
			continue
		}
		if m, ok := e.Result.(map[string]any); ok {
			out[tools.Tool(e.Tool)] = payload.Map(m)
		} else {
			out[tools.Tool(e.Tool)] = payload.Map{"value": e.Result}
		}
	}
	return out
}

func lastEvent(state models.AgentState, stepID string, tool tools.Tool) (models.ToolEvent, bool) {
	events := state.EventsFor(stepID)
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Tool == string(tool) {
			return events[i], true
		}
	}
	return models.ToolEvent{}, false
}

package agents_test

import (
	"context"
	"errors"
	"fmt"
	"go-supervisor/internal/agents"
	research "go-supervisor/internal/agents/research/handler"
	transform "go-supervisor/internal/agents/transform/handler"
	"go-supervisor/pkg/models"
	"go-supervisor/pkg/payload"
	"go-supervisor/pkg/tools"
	"strings"
	"testing"
)

// drive plays the role of the driver for one ToDo: tool calls are answered by
// the toolbox or, for interactive tools, by reply.
func drive(t *testing.T, agent agents.Agent, todo models.ToDo, toolbox *tools.Registry, reply any) (models.AgentSummary, []string) {
	t.Helper()
	state := models.NewAgentState()
	var called []string
	for i := 0; i < 10; i++ {
		action, err := agent.Act(context.Background(), agents.Input{ToDo: &todo, State: state})
		if err != nil {
			t.Fatalf("Act failed: %v", err)
		}
		if action.Summary != nil {
			return *action.Summary, called
		}
		call := *action.ToolCall
		called = append(called, call.Tool)
		call.ID = fmt.Sprintf("call-%d", i)
		call.StepID = todo.ID
		event := models.ToolEvent{ToolCall: call}
		if toolbox.Interactive(call.Tool) {
			event.Status, event.Result = models.ToolCompleted, reply
		} else if out, err := toolbox.Invoke(context.Background(), call.Tool, call.Args); err != nil {
			event.Status, event.Error = models.ToolFailed, err.Error()
		} else {
			event.Status, event.Result = models.ToolCompleted, map[string]any(out)
		}
		state.ToolEvents = append(state.ToolEvents, event)
	}
	t.Fatal("agent never summarized")
	return models.AgentSummary{}, nil
}

func TestPipelineNoWork(t *testing.T) {
	action, err := research.New(nil).Act(context.Background(), agents.Input{State: models.NewAgentState()})
	if err != nil {
		t.Fatalf("Act failed: %v", err)
	}
	if action.Summary == nil || action.Summary.Result != models.ResultCompleted || action.ToolCall != nil {
		t.Errorf("unexpected action %+v", action)
	}
}

func TestResearchPipeline(t *testing.T) {
	todo := models.ToDo{ID: "todo-001", Description: "Research: Go", Status: models.ToDoInProgress, OwnerAgent: research.Name, Metadata: payload.Map{"query": "Go generics"}}
	sum, called := drive(t, research.New(nil), todo, tools.Default(), nil)

	want := []string{"web_search", "gather_context", "analyze_data"}
	if strings.Join(called, ",") != strings.Join(want, ",") {
		t.Errorf("tools = %v, want %v", called, want)
	}
	if sum.Result != models.ResultCompleted || sum.StepID != "todo-001" {
		t.Errorf("summary = %+v", sum)
	}
	if !strings.Contains(sum.ShortSummary, "Found relevant information about Go generics") {
		t.Errorf("ShortSummary = %q", sum.ShortSummary)
	}
}

func TestTransformApproval(t *testing.T) {
	todo := models.ToDo{ID: "todo-002", Description: "Write the memo for Acme Corp", Status: models.ToDoInProgress, OwnerAgent: transform.Name, Metadata: payload.Map{"require_approval": true}}

	tests := []struct {
		name   string
		reply  any
		result models.AgentResult
	}{
		{name: "approved bool", reply: true, result: models.ResultCompleted},
		{name: "approved choice", reply: map[string]any{"choice": "approve"}, result: models.ResultCompleted},
		{name: "rejected", reply: "reject", result: models.ResultNeedsAssistance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sum, called := drive(t, transform.New(nil), todo, tools.Default(), tt.reply)
			if len(called) != 4 || called[3] != string(tools.ShowApprovalCard) {
				t.Fatalf("tools = %v", called)
			}
			if sum.Result != tt.result {
				t.Errorf("Result = %s, want %s", sum.Result, tt.result)
			}
			if tt.result == models.ResultNeedsAssistance && !strings.HasPrefix(sum.NextInstructionsForSupervisor, "ESCALATE") {
				t.Errorf("instructions = %q", sum.NextInstructionsForSupervisor)
			}
		})
	}
}

func TestPipelineToolFailureEndsDispatch(t *testing.T) {
	calls := 0
	broken := tools.Spec{Name: tools.WebSearch, Required: []string{"query"}, Run: func(context.Context, payload.Map) (payload.Map, error) {
		calls++
		return nil, errors.New("search backend unavailable")
	}}
	todo := models.ToDo{ID: "todo-001", Description: "Research", Status: models.ToDoInProgress, OwnerAgent: research.Name}

	sum, called := drive(t, research.New(nil), todo, tools.NewRegistry(broken), nil)
	if calls != 1 || len(called) != 1 {
		t.Errorf("tool ran %d times (%v), want exactly once", calls, called)
	}
	if sum.Result != models.ResultFailed || !strings.Contains(sum.ShortSummary, "search backend unavailable") {
		t.Errorf("summary = %+v", sum)
	}
}

type summarizerFunc func() (string, error)

func (f summarizerFunc) Summarize(context.Context, string, models.ToDo, agents.Results) (string, error) {
	return f()
}

func TestPipelineSummarizer(t *testing.T) {
	todo := models.ToDo{ID: "todo-001", Description: "Research", Status: models.ToDoInProgress, OwnerAgent: research.Name}
	sum, _ := drive(t, research.New(summarizerFunc(func() (string, error) { return "three sources agree", nil })), todo, tools.Default(), nil)
	if sum.ShortSummary != "three sources agree" {
		t.Errorf("ShortSummary = %q", sum.ShortSummary)
	}
}

func TestApproved(t *testing.T) {
	tests := []struct {
		reply any
		want  bool
	}{
		{true, true},
		{false, false},
		{" Approve ", true},
		{"yes", true},
		{"reject", false},
		{map[string]any{"approved": true}, true},
		{map[string]any{"approved": false, "choice": "approve"}, false},
		{map[string]any{"action": "accept"}, true},
		{nil, false},
		{42.0, false},
	}
	for _, tt := range tests {
		if got := agents.Approved(tt.reply); got != tt.want {
			t.Errorf("Approved(%v) = %v, want %v", tt.reply, got, tt.want)
		}
	}
}

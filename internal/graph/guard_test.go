package graph

import (
	"errors"
	"go-supervisor/pkg/models"
	"testing"
)

func TestGuardCheck(t *testing.T) {
	g := NewGuard(5)
	tests := []struct {
		depth   int
		wantErr bool
	}{
		{depth: 0},
		{depth: 4},
		{depth: 5, wantErr: true},
		{depth: 6, wantErr: true},
	}
	for _, tt := range tests {
		state := models.NewAgentState()
		state.RecursionDepth = tt.depth
		_, err := g.Check("research_agent", state)
		if (err != nil) != tt.wantErr {
			t.Errorf("Check(depth=%d) error = %v, wantErr %v", tt.depth, err, tt.wantErr)
		}
	}
}

func TestGuardSynthesize(t *testing.T) {
	g := NewGuard(0)
	if g.Limit() != DefaultRecursionLimit {
		t.Fatalf("Limit() = %d, want %d", g.Limit(), DefaultRecursionLimit)
	}
	state := models.NewAgentState()
	state.RecursionDepth = 6

	_, err := g.Check("research_agent", state)
	var limitErr *models.RecursionLimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected RecursionLimitError, got %v", err)
	}
	sum := g.Synthesize("research_agent", "todo-001", limitErr)
	if sum.Result != models.ResultFailed || sum.ShortSummary != "RECURSION_LIMIT_EXCEEDED" || sum.StepID != "todo-001" {
		t.Errorf("Synthesize() = %+v", sum)
	}
}

func TestGuardObserve(t *testing.T) {
	g := NewGuard(5)
	state := models.NewAgentState()
	state = g.Observe(state, true)
	state = g.Observe(state, true)
	if state.RecursionDepth != 2 {
		t.Fatalf("depth = %d, want 2", state.RecursionDepth)
	}
	if state = g.Observe(state, false); state.RecursionDepth != 0 {
		t.Errorf("summary must reset the depth, got %d", state.RecursionDepth)
	}
}

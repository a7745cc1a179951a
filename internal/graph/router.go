// Package graph runs the orchestration state machine: it routes between the
// supervisor and the agents, guards agent recursion, commits a checkpoint
// after every step and emits the ordered event stream of a run.
package graph

import (
	"fmt"
	"go-supervisor/pkg/models"
)

type NodeKind int

const (
	KindSupervisor NodeKind = iota
	KindAgent
	KindFinalizer
	KindEscalation
)

// NodeRef names the node a run executes next.
type NodeRef struct {
	Kind NodeKind
	Name string
}

func (n NodeRef) String() string {
	return n.Name
}

// Terminal reports whether no routing happens after the node.
func (n NodeRef) Terminal() bool {
	return n.Kind == KindFinalizer || n.Kind == KindEscalation
}

var (
	SupervisorNode = NodeRef{Kind: KindSupervisor, Name: "supervisor"}
	FinalizerNode  = NodeRef{Kind: KindFinalizer, Name: "finalizer"}
	EscalationNode = NodeRef{Kind: KindEscalation, Name: "hitl_escalation"}
)

// Router maps a SupervisorState onto the next node. It holds only the set of
// agent names the driver can execute.
type Router struct {
	agents map[string]struct{}
}

func NewRouter(agents ...string) Router {
	r := Router{agents: make(map[string]struct{}, len(agents))}
	for _, a := range agents {
		r.agents[a] = struct{}{}
	}
	return r
}

// Route picks the next node; the first matching rule wins.
func (r Router) Route(s models.SupervisorState) (NodeRef, error) {
	switch s.Status {
	case models.StatusDone:
		return FinalizerNode, nil
	case models.StatusEscalate:
		return EscalationNode, nil
	case models.StatusRunning:
	default:
		return NodeRef{}, models.NewRunError(models.CodeInternal, fmt.Sprintf("invalid supervisor status %q", s.Status), nil)
	}

	if s.ActiveAgent == "" {
		return SupervisorNode, nil
	}
	if _, ok := r.agents[s.ActiveAgent]; !ok {
		return NodeRef{}, &models.UnknownAgentError{Name: s.ActiveAgent}
	}
	return NodeRef{Kind: KindAgent, Name: s.ActiveAgent}, nil
}

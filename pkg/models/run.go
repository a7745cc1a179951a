package models

import (
	"time"
)

// RunStatus is the lifecycle status of a checkpointed run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSuspended RunStatus = "suspended" // waiting for a tool reply
	RunDone      RunStatus = "done"
	RunEscalated RunStatus = "escalated"
	RunFailed    RunStatus = "failed"  // dead state
	RunAborted   RunStatus = "aborted" // cancelled
)

func (s RunStatus) Terminal() bool {
	switch s {
	case RunDone, RunEscalated, RunFailed, RunAborted:
		return true
	}
	return false
}

// FinalStatus is the status carried by the final stream event.
type FinalStatus string

const (
	FinalDone     FinalStatus = "DONE"
	FinalEscalate FinalStatus = "ESCALATE"
	FinalError    FinalStatus = "ERROR"
	FinalAborted  FinalStatus = "ABORTED"
)

// Result is the caller-facing outcome of a run.
type Result struct {
	Status          FinalStatus     `json:"status"`
	Output          string          `json:"output"`
	RunID           string          `json:"run_id"`
	HandoffRequired bool            `json:"handoff_required"`
	Reason          string          `json:"reason,omitempty"`
	SupervisorState SupervisorState `json:"supervisor_state"`
	Error           *ErrorDetail    `json:"error,omitempty"`
}

// Checkpoint is the persisted snapshot of a run after its last committed step.
type Checkpoint struct {
	RunID     string       `json:"run_id"`
	State     GraphState   `json:"state"`
	Status    RunStatus    `json:"status"`
	Steps     int          `json:"steps"`
	Result    *Result      `json:"result,omitempty"`
	Error     *ErrorDetail `json:"error,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func (c Checkpoint) Clone() Checkpoint {
	c.State = c.State.Clone()
	if c.Result != nil {
		r := *c.Result
		r.SupervisorState = r.SupervisorState.Clone()
		if r.Error != nil {
			e := *r.Error
			r.Error = &e
		}
		c.Result = &r
	}
	if c.Error != nil {
		e := *c.Error
		c.Error = &e
	}
	return c
}

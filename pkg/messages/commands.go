package messages

import (
	"go-supervisor/pkg/models"
)

// Step asks a run actor to execute the next step of its run.
type Step struct{}

// ToolReply carries the answer to the pending interactive tool call. The
// actor responds with an Ack.
type ToolReply struct {
	Reply models.ToolReply
}

// ToolTimeout fires when a pending tool call got no reply in time. Timeouts
// for calls that are no longer pending are ignored.
type ToolTimeout struct {
	ToolCallID string
}

// Cancel aborts the run between steps. The actor responds with an Ack.
type Cancel struct{}

// GetStatus asks for the last committed checkpoint. The actor responds with a
// Status.
type GetStatus struct{}

type Ack struct {
	Err error
}

type Status struct {
	Checkpoint models.Checkpoint
	Err        error
}

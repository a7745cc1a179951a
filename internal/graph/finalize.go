package graph

import (
	"fmt"
	"go-supervisor/pkg/models"
	"strings"
)

const completedHeader = "Task completed successfully."

// Finalize turns a DONE state into the caller-facing result. It depends on
// nothing but its arguments, so repeated calls give identical results.
func Finalize(runID string, s models.SupervisorState) (models.Result, error) {
	if s.Status != models.StatusDone {
		return models.Result{}, fmt.Errorf("finalize: status is %s", s.Status)
	}
	output := completedHeader
	if work := workDone(s.History); work != "" {
		output += "\n\n" + work
	}
	return models.Result{
		Status:          models.FinalDone,
		Output:          output,
		RunID:           runID,
		SupervisorState: s.Clone(),
	}, nil
}

// Escalate turns an ESCALATE state into a result flagged for human handoff.
func Escalate(runID string, s models.SupervisorState) (models.Result, error) {
	if s.Status != models.StatusEscalate {
		return models.Result{}, fmt.Errorf("escalate: status is %s", s.Status)
	}
	reason := escalationReason(s)
	output := "Escalated for human review: " + reason
	if work := workDone(s.History); work != "" {
		output += "\n\n" + work
	}
	return models.Result{
		Status:          models.FinalEscalate,
		Output:          output,
		RunID:           runID,
		HandoffRequired: true,
		Reason:          reason,
		SupervisorState: s.Clone(),
	}, nil
}

func workDone(history []models.AgentSummary) string {
	if len(history) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Work done:")
	for _, h := range history {
		fmt.Fprintf(&b, "\n- %s: %s", h.AgentName, h.ShortSummary)
	}
	return b.String()
}

func escalationReason(s models.SupervisorState) string {
	if s.Notes != "" {
		return s.Notes
	}
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Result != models.ResultCompleted && s.History[i].NextInstructionsForSupervisor != "" {
			return s.History[i].NextInstructionsForSupervisor
		}
	}
	return "escalation requested"
}

package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/rs/zerolog"
	"go-supervisor/pkg/data"
	"go-supervisor/pkg/logger"
	"go-supervisor/pkg/models"
	"strings"
)

const (
	DefaultFailureThreshold = 3
	escalatePrefix          = "ESCALATE"
)

// Planner is the natural-language side of supervision. strict asks for the
// reformulated prompt used after an unusable answer.
type Planner interface {
	Plan(ctx context.Context, req models.PlanRequest, strict bool) models.HandlerResult
}

// Handler is the supervisor step. It owns every SupervisorState transition and
// only consults the planner when the plan has to change.
type Handler struct {
	planner   Planner
	agents    []string
	threshold int
}

func New(planner Planner, agents []string, failureThreshold int) *Handler {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	return &Handler{
		planner:   planner,
		agents:    append([]string(nil), agents...),
		threshold: failureThreshold,
	}
}

func (h *Handler) Step(ctx context.Context, state models.SupervisorState) (models.SupervisorState, error) {
	out := state.Clone()
	if out.Status.Terminal() {
		return out, nil
	}
	l := logger.ForRun(out.TaskID).With().Str(logger.NodeField, "supervisor").Logger()

	replan, reason := h.review(&out)
	if reason != "" {
		l.Warn().Str("reason", reason).Msg("escalating run")
		return escalate(out, reason), nil
	}
	replan = replan || len(out.Plan) == 0

	if !replan {
		if out.AllDone() {
			out.Status = models.StatusDone
			out.ActiveAgent = ""
			out.Notes = "all todos are done"
			return out, nil
		}
		if dispatch(&out) {
			l.Debug().Str(logger.AgentNameField, out.ActiveAgent).Msg("dispatching next todo")
			return out, nil
		}
	}

	l.Info().Int("history", len(out.History)).Int("plan", len(out.Plan)).Msg("asking planner for a decision")
	return h.decide(ctx, out, l)
}

// review folds the summaries the supervisor has not seen yet into the plan. It
// reports whether the planner must be consulted and, when the run cannot go on
// without a human, why.
func (h *Handler) review(s *models.SupervisorState) (replan bool, escalation string) {
	for _, sum := range s.Unreviewed() {
		i, found := s.FindToDo(sum.StepID)
		switch sum.Result {
		case models.ResultCompleted:
			if found {
				s.Plan[i].Status = models.ToDoDone
			}
			delete(s.Failures, sum.StepID)
		case models.ResultNeedsAssistance:
			replan = true
			if found {
				s.Plan[i].Status = models.ToDoBlocked
			}
			delete(s.Failures, sum.StepID)
			if r, ok := escalationRequest(sum); ok && escalation == "" {
				escalation = r
			}
		case models.ResultFailed:
			replan = true
			if !found {
				continue
			}
			if s.Failures == nil {
				s.Failures = map[string]int{}
			}
			s.Failures[sum.StepID]++
			if n := s.Failures[sum.StepID]; n >= h.threshold && escalation == "" {
				escalation = fmt.Sprintf("todo %s failed %d consecutive times, last: %s", sum.StepID, n, sum.ShortSummary)
			}
		}
	}
	s.Reviewed = len(s.History)
	return replan, escalation
}

// decide asks the planner, retrying once with the strict prompt when the answer
// cannot be used.
func (h *Handler) decide(ctx context.Context, s models.SupervisorState, l zerolog.Logger) (models.SupervisorState, error) {
	req := models.PlanRequest{
		Task:    s.Task,
		Agents:  h.agents,
		Plan:    s.Plan,
		History: s.History,
		Context: s.ContextMetadata,
	}
	var lastErr error
	for _, strict := range []bool{false, true} {
		res := h.planner.Plan(ctx, req, strict)
		if res.Error != nil {
			return s, models.NewRunError(models.CodeInternal, "planner unavailable", res.Error)
		}
		next, err := h.interpret(s, res.Answer)
		if err == nil {
			return next, nil
		}
		lastErr = err
		l.Warn().Err(err).Bool("strict", strict).Msg("planner answer rejected")
	}
	return s, models.NewRunError(models.CodePlanningFailure, "planner answer could not be used", lastErr)
}

func (h *Handler) interpret(s models.SupervisorState, answer string) (models.SupervisorState, error) {
	d, err := parseDecision(answer)
	if err != nil {
		return s, err
	}
	return apply(s, d)
}

// parseDecision reads the answer as JSON and falls back to pulling the object
// out of surrounding prose.
func parseDecision(answer string) (models.PlanDecision, error) {
	var d models.PlanDecision
	if err := json.Unmarshal([]byte(strings.TrimSpace(answer)), &d); err == nil {
		return d, nil
	}
	match, err := data.SanitizeAnswer(answer)
	if err != nil {
		return models.PlanDecision{}, fmt.Errorf("sanitize: %w", err)
	}
	d = models.PlanDecision{}
	if err := json.Unmarshal([]byte(match), &d); err != nil {
		return models.PlanDecision{}, fmt.Errorf("unmarshal: %w", err)
	}
	return d, nil
}

func apply(s models.SupervisorState, d models.PlanDecision) (models.SupervisorState, error) {
	out := s.Clone()
	for _, t := range d.PlanUpdate {
		if i, ok := out.FindToDo(t.ID); ok && t.ID != "" {
			cur := &out.Plan[i]
			if t.Description != "" {
				cur.Description = t.Description
			}
			if t.Status != "" {
				cur.Status = t.Status
			}
			if t.OwnerAgent != "" {
				cur.OwnerAgent = t.OwnerAgent
			}
			if t.ParentID != "" {
				cur.ParentID = t.ParentID
			}
			if len(t.Metadata) > 0 {
				merged, err := cur.Metadata.Merge(t.Metadata)
				if err != nil {
					return s, fmt.Errorf("todo %s metadata: %w", t.ID, err)
				}
				cur.Metadata = merged
			}
			continue
		}
		if t.ID == "" {
			t.ID = nextID(out.Plan)
		}
		if t.Status == "" {
			t.Status = models.ToDoPending
		}
		out.Plan = append(out.Plan, t.Clone())
	}
	if err := models.ValidatePlan(out.Plan); err != nil {
		return s, fmt.Errorf("plan: %w", err)
	}
	if d.Notes != "" {
		out.Notes = d.Notes
	}

	switch d.TerminalStatus {
	case "", models.StatusRunning:
	case models.StatusDone:
		// a premature DONE is ignored and the plan continues
		if out.AllDone() {
			out.Status = models.StatusDone
			out.ActiveAgent = ""
			return out, nil
		}
	case models.StatusEscalate:
		reason := d.Notes
		if reason == "" {
			reason = "planner requested escalation"
		}
		return escalate(out, reason), nil
	default:
		return s, fmt.Errorf("unknown terminal_status %q", d.TerminalStatus)
	}

	if d.ActiveAgent != "" {
		out.ActiveAgent = d.ActiveAgent
		if t, ok := models.SelectToDo(out.Plan, d.ActiveAgent); ok {
			i, _ := out.FindToDo(t.ID)
			out.Plan[i].Status = models.ToDoInProgress
		}
		return out, nil
	}
	if dispatch(&out) {
		return out, nil
	}
	if out.AllDone() {
		out.Status = models.StatusDone
		return out, nil
	}
	return escalate(out, "no actionable todo remains in the plan"), nil
}

// dispatch hands the first actionable ToDo in plan order to its owner.
func dispatch(s *models.SupervisorState) bool {
	for i, t := range s.Plan {
		if t.OwnerAgent == "" || !t.Status.Actionable() {
			continue
		}
		s.Plan[i].Status = models.ToDoInProgress
		s.ActiveAgent = t.OwnerAgent
		return true
	}
	return false
}

func escalate(s models.SupervisorState, reason string) models.SupervisorState {
	s.Status = models.StatusEscalate
	s.ActiveAgent = ""
	s.Notes = reason
	return s
}

// escalationRequest reports whether a summary explicitly asks for a human.
func escalationRequest(sum models.AgentSummary) (string, bool) {
	text := strings.TrimSpace(sum.NextInstructionsForSupervisor)
	if len(text) < len(escalatePrefix) || !strings.EqualFold(text[:len(escalatePrefix)], escalatePrefix) {
		return "", false
	}
	reason := strings.TrimSpace(strings.TrimLeft(text[len(escalatePrefix):], ":- \t"))
	if reason == "" {
		reason = fmt.Sprintf("%s requested escalation", sum.AgentName)
	}
	return reason, true
}

func nextID(plan []models.ToDo) string {
	for n := len(plan) + 1; ; n++ {
		id := fmt.Sprintf("todo-%03d", n)
		taken := false
		for _, t := range plan {
			if t.ID == id {
				taken = true
				break
			}
		}
		if !taken {
			return id
		}
	}
}

package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"go-supervisor/pkg/models"
	"go-supervisor/pkg/payload"
	"go-supervisor/pkg/prompts"
	"go-supervisor/pkg/template"
	"regexp"
)

const (
	ResearchAgent  = "research_agent"
	TransformAgent = "transform_agent"
)

var approvalPattern = regexp.MustCompile(`(?i)\b(approv\w*|review\w*|sign[- ]?off)\b`)

// Static is a rule-based planner that needs no model: research the task, then
// transform the findings. It answers in the same JSON shape a model would.
type Static struct{}

func NewStatic() *Static {
	return &Static{}
}

func (s *Static) Plan(_ context.Context, req models.PlanRequest, strict bool) models.HandlerResult {
	inputs, err := promptInputs(req)
	if err != nil {
		return models.HandlerResult{Error: err}
	}
	text := prompts.PlannerDecision
	if strict {
		text = prompts.PlannerDecisionStrict
	}
	question, err := template.Parse(text, inputs)
	if err != nil {
		return models.HandlerResult{Error: fmt.Errorf("execute: %w", err)}
	}

	body, err := json.Marshal(decide(req))
	if err != nil {
		return models.HandlerResult{Error: fmt.Errorf("marshal: %w", err)}
	}
	answer := string(body)
	if !strict {
		answer = "Here is my decision:\n```json\n" + answer + "\n```"
	}
	return models.HandlerResult{Question: question, Answer: answer}
}

func decide(req models.PlanRequest) models.PlanDecision {
	if len(req.Plan) == 0 {
		return initialPlan(req)
	}

	if n := len(req.History); n > 0 {
		last := req.History[n-1]
		switch last.Result {
		case models.ResultNeedsAssistance:
			return models.PlanDecision{
				TerminalStatus: models.StatusEscalate,
				Notes:          fmt.Sprintf("%s needs assistance: %s", last.AgentName, last.NextInstructionsForSupervisor),
			}
		case models.ResultFailed:
			for _, t := range req.Plan {
				if t.ID == last.StepID {
					return models.PlanDecision{
						PlanUpdate:  []models.ToDo{{ID: t.ID, Status: models.ToDoPending}},
						ActiveAgent: t.OwnerAgent,
						Notes:       fmt.Sprintf("retrying %s after: %s", t.ID, last.ShortSummary),
					}
				}
			}
		}
	}

	done := true
	for _, t := range req.Plan {
		if t.Status != models.ToDoDone {
			done = false
		}
		if t.Status.Actionable() && t.OwnerAgent != "" {
			return models.PlanDecision{ActiveAgent: t.OwnerAgent, Notes: "continuing with " + t.ID}
		}
	}
	if done {
		return models.PlanDecision{TerminalStatus: models.StatusDone, Notes: "every todo is done"}
	}
	return models.PlanDecision{TerminalStatus: models.StatusEscalate, Notes: "the remaining todos are blocked"}
}

func initialPlan(req models.PlanRequest) models.PlanDecision {
	available := map[string]bool{}
	for _, a := range req.Agents {
		available[a] = true
	}
	approval := approvalPattern.MatchString(req.Task) || req.Context.GetBool("require_approval")

	var plan []models.ToDo
	if available[ResearchAgent] {
		plan = append(plan, models.ToDo{
			ID:          "todo-001",
			Description: "Research: " + req.Task,
			Status:      models.ToDoPending,
			OwnerAgent:  ResearchAgent,
			Metadata:    payload.Map{"query": req.Task},
		})
	}
	if available[TransformAgent] {
		t := models.ToDo{
			ID:          fmt.Sprintf("todo-%03d", len(plan)+1),
			Description: "Produce the deliverable for: " + req.Task,
			Status:      models.ToDoPending,
			OwnerAgent:  TransformAgent,
			Metadata:    payload.Map{"format_type": "markdown"},
		}
		if format, ok := req.Context.GetString("format_type"); ok {
			t.Metadata["format_type"] = format
		}
		if approval {
			t.Metadata["require_approval"] = true
		}
		plan = append(plan, t)
	}
	if len(plan) == 0 {
		return models.PlanDecision{TerminalStatus: models.StatusEscalate, Notes: "no registered agent can work on this task"}
	}
	if approval && plan[len(plan)-1].OwnerAgent != TransformAgent {
		plan[len(plan)-1].Metadata["require_approval"] = true
	}
	return models.PlanDecision{
		PlanUpdate:  plan,
		ActiveAgent: plan[0].OwnerAgent,
		Notes:       fmt.Sprintf("planned %d todos", len(plan)),
	}
}

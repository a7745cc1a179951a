package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/tmc/langchaingo/chains"
	"github.com/tmc/langchaingo/llms"
	langChainPrompts "github.com/tmc/langchaingo/prompts"
	"go-supervisor/pkg/models"
	"go-supervisor/pkg/prompts"
	"go-supervisor/pkg/template"
	"strings"
)

var (
	inputVariables = []string{"Task", "Agents", "Plan", "History", "Context"}
	DecisionPrompt = langChainPrompts.NewPromptTemplate(prompts.PlannerDecision, inputVariables)
	StrictPrompt   = langChainPrompts.NewPromptTemplate(prompts.PlannerDecisionStrict, inputVariables)
)

// Handler plans through a langchaingo LLM chain.
type Handler struct {
	chain  chains.Chain
	strict chains.Chain
}

func New(llm llms.Model) *Handler {
	return &Handler{
		chain:  chains.NewLLMChain(llm, DecisionPrompt),
		strict: chains.NewLLMChain(llm, StrictPrompt),
	}
}

func (h *Handler) Plan(ctx context.Context, req models.PlanRequest, strict bool) models.HandlerResult {
	inputs, err := promptInputs(req)
	if err != nil {
		return models.HandlerResult{Error: err}
	}
	chain, text := h.chain, prompts.PlannerDecision
	if strict {
		chain, text = h.strict, prompts.PlannerDecisionStrict
	}

	completion, err := chains.Call(ctx, chain, inputs)
	if err != nil {
		return models.HandlerResult{Error: fmt.Errorf("call: %w", err)}
	}

	question, err := template.Parse(text, inputs)
	if err != nil {
		return models.HandlerResult{Error: fmt.Errorf("execute: %w", err)}
	}

	answer, ok := completion["text"].(string)
	if !ok {
		return models.HandlerResult{Error: fmt.Errorf("call: unexpected completion %T", completion["text"])}
	}
	return models.HandlerResult{Question: question, Answer: answer}
}

// promptInputs renders a request into the template variables shared by every
// planner prompt.
func promptInputs(req models.PlanRequest) (map[string]any, error) {
	plan, err := json.Marshal(req.Plan)
	if err != nil {
		return nil, fmt.Errorf("marshal plan: %w", err)
	}
	history, err := json.Marshal(req.History)
	if err != nil {
		return nil, fmt.Errorf("marshal history: %w", err)
	}
	metadata, err := json.Marshal(req.Context)
	if err != nil {
		return nil, fmt.Errorf("marshal context: %w", err)
	}
	agents := make([]string, len(req.Agents))
	for i, a := range req.Agents {
		agents[i] = "- " + a
	}
	return map[string]any{
		"Task":    req.Task,
		"Agents":  strings.Join(agents, "\n"),
		"Plan":    string(plan),
		"History": string(history),
		"Context": string(metadata),
	}, nil
}

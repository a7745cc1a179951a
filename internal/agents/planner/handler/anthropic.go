package handler

import (
	"context"
	"fmt"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go-supervisor/pkg/models"
	"go-supervisor/pkg/prompts"
	"go-supervisor/pkg/template"
	"strings"
)

const (
	DefaultAnthropicModel = anthropic.Model("claude-sonnet-4-5")
	anthropicMaxTokens    = 4096
	plannerSystem         = "You plan work for a team of specialist agents and answer with a single JSON object."
)

// Anthropic plans through the Anthropic Messages API.
type Anthropic struct {
	client anthropic.Client
	model  anthropic.Model
}

func NewAnthropic(apiKey, model string, opts ...option.RequestOption) *Anthropic {
	if model == "" {
		model = string(DefaultAnthropicModel)
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Anthropic{
		client: anthropic.NewClient(opts...),
		model:  anthropic.Model(model),
	}
}

func (a *Anthropic) Plan(ctx context.Context, req models.PlanRequest, strict bool) models.HandlerResult {
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

	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: anthropicMaxTokens,
		System:    []anthropic.TextBlockParam{{Text: plannerSystem}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(question)),
		},
	})
	if err != nil {
		return models.HandlerResult{Error: fmt.Errorf("call: %w", err)}
	}

	var answer strings.Builder
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			answer.WriteString(tb.Text)
		}
	}
	return models.HandlerResult{Question: question, Answer: answer.String()}
}

package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/tmc/langchaingo/chains"
	"github.com/tmc/langchaingo/llms"
	langChainPrompts "github.com/tmc/langchaingo/prompts"
	"go-supervisor/pkg/models"
	"go-supervisor/pkg/prompts"
	"strings"
)

var SummaryPrompt = langChainPrompts.NewPromptTemplate(prompts.AgentSummaryTemplate, []string{"Agent", "Description", "Findings"})

// LLMSummarizer asks a language model to summarize an agent's tool results.
type LLMSummarizer struct {
	chain chains.Chain
}

func NewLLMSummarizer(llm llms.Model) *LLMSummarizer {
	return &LLMSummarizer{chain: chains.NewLLMChain(llm, SummaryPrompt)}
}

func (s *LLMSummarizer) Summarize(ctx context.Context, agent string, todo models.ToDo, results Results) (string, error) {
	findings, err := json.Marshal(results)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}
	completion, err := chains.Call(ctx, s.chain, map[string]any{
		"Agent":       agent,
		"Description": todo.Description,
		"Findings":    string(findings),
	})
	if err != nil {
		return "", fmt.Errorf("call: %w", err)
	}
	text, _ := completion["text"].(string)
	if text = strings.TrimSpace(text); text == "" {
		return "", errors.New("call: empty summary")
	}
	return text, nil
}

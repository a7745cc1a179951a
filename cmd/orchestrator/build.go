package main

import (
	"fmt"
	"github.com/tmc/langchaingo/llms/openai"
	"go-supervisor/internal/agents"
	plannerHandler "go-supervisor/internal/agents/planner/handler"
	research "go-supervisor/internal/agents/research/handler"
	supervisorHandler "go-supervisor/internal/agents/supervisor/handler"
	transform "go-supervisor/internal/agents/transform/handler"
	"go-supervisor/internal/checkpoint"
	"go-supervisor/internal/config"
	"go-supervisor/internal/graph"
	"go-supervisor/pkg/tools"
)

func openStore(c config.CheckpointConfig) (checkpoint.Store, error) {
	if c.Driver == "sqlite" {
		db, err := checkpoint.OpenSQLite(c.Path)
		if err != nil {
			return nil, err
		}
		return db, nil
	}
	return checkpoint.NewMemory(), nil
}

func openAI(c *config.Config) (*openai.LLM, error) {
	opts := []openai.Option{openai.WithToken(c.OpenAI.APIKey)}
	if c.Planner.Provider == "openai" && c.Planner.Model != "" {
		opts = append(opts, openai.WithModel(c.Planner.Model))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("openai client: %w", err)
	}
	return llm, nil
}

func newPlanner(c *config.Config) (supervisorHandler.Planner, error) {
	switch c.Planner.Provider {
	case "openai":
		llm, err := openAI(c)
		if err != nil {
			return nil, err
		}
		return plannerHandler.New(llm), nil
	case "anthropic":
		return plannerHandler.NewAnthropic(c.Anthropic.APIKey, c.Planner.Model), nil
	default:
		return plannerHandler.NewStatic(), nil
	}
}

// newDriver wires the supervisor, the specialist agents and the tools onto
// the given store.
func newDriver(c *config.Config, store checkpoint.Store) (*graph.Driver, error) {
	var summarizer agents.Summarizer
	if c.Agents.Summarizer == "openai" {
		llm, err := openAI(c)
		if err != nil {
			return nil, err
		}
		summarizer = agents.NewLLMSummarizer(llm)
	}

	registry, err := agents.NewRegistry(research.New(summarizer), transform.New(summarizer))
	if err != nil {
		return nil, err
	}
	planner, err := newPlanner(c)
	if err != nil {
		return nil, err
	}
	supervisor := supervisorHandler.New(planner, registry.Names(), c.Engine.FailureThreshold)
	return graph.New(supervisor, registry, tools.Default(), store, graph.Options{
		MaxSteps:       c.Engine.MaxSteps,
		RecursionLimit: c.Engine.RecursionLimit,
	}), nil
}

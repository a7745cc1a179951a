package handler

import (
	"go-supervisor/internal/agents"
	"go-supervisor/pkg/models"
	"go-supervisor/pkg/payload"
	"go-supervisor/pkg/tools"
)

const Name = "research_agent"

// New builds the research agent: search, gather context, analyze, then
// optionally show the findings for approval.
func New(summarizer agents.Summarizer) *agents.Pipeline {
	return &agents.Pipeline{
		AgentName: Name,
		Stages: []agents.Stage{
			{Tool: tools.WebSearch, Args: searchArgs},
			{Tool: tools.GatherContext, Args: contextArgs},
			{Tool: tools.AnalyzeData, Args: analyzeArgs},
		},
		Approval:   agents.Stage{Tool: tools.ShowResearchSummary, Args: approvalArgs},
		Summarizer: summarizer,
	}
}

func searchArgs(todo models.ToDo, _ agents.Results) payload.Map {
	query, ok := todo.Metadata.GetString("query")
	if !ok || query == "" {
		query = todo.Description
	}
	return payload.Map{"query": query}
}

func contextArgs(todo models.ToDo, _ agents.Results) payload.Map {
	depth, ok := todo.Metadata.GetString("depth")
	if !ok {
		depth = "moderate"
	}
	return payload.Map{"topic": todo.Description, "depth": depth}
}

func analyzeArgs(_ models.ToDo, results agents.Results) payload.Map {
	return payload.Map{
		"data":          results.Summary(tools.WebSearch) + ". " + results.Summary(tools.GatherContext),
		"analysis_type": "summary",
	}
}

func approvalArgs(todo models.ToDo, results agents.Results) payload.Map {
	findings := []any{}
	for _, t := range []tools.Tool{tools.WebSearch, tools.GatherContext, tools.AnalyzeData} {
		if s := results.Summary(t); s != "" {
			findings = append(findings, s)
		}
	}
	return payload.Map{"title": todo.Description, "findings": findings}
}

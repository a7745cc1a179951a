package handler

import (
	"go-supervisor/internal/agents"
	"go-supervisor/pkg/models"
	"go-supervisor/pkg/payload"
	"go-supervisor/pkg/tools"
	"strings"
)

const Name = "transform_agent"

// New builds the transform agent: extract entities, format, summarize, then
// optionally ask for approval of the document.
func New(summarizer agents.Summarizer) *agents.Pipeline {
	return &agents.Pipeline{
		AgentName: Name,
		Stages: []agents.Stage{
			{Tool: tools.ExtractEntities, Args: entityArgs},
			{Tool: tools.FormatData, Args: formatArgs},
			{Tool: tools.SummarizeContent, Args: summarizeArgs},
		},
		Approval:   agents.Stage{Tool: tools.ShowApprovalCard, Args: approvalArgs},
		Summarizer: summarizer,
	}
}

func content(todo models.ToDo) string {
	if s, ok := todo.Metadata.GetString("content"); ok && s != "" {
		return s
	}
	return todo.Description
}

func entityArgs(todo models.ToDo, _ agents.Results) payload.Map {
	return payload.Map{"content": content(todo)}
}

func formatArgs(todo models.ToDo, results agents.Results) payload.Map {
	format, ok := todo.Metadata.GetString("format_type")
	if !ok || format == "" {
		format = "markdown"
	}
	data := content(todo)
	if entities := results[tools.ExtractEntities].GetStrings("entities"); len(entities) > 0 {
		data += "\n\nEntities: " + strings.Join(entities, ", ")
	}
	return payload.Map{"data": data, "format_type": format}
}

func summarizeArgs(todo models.ToDo, results agents.Results) payload.Map {
	formatted, _ := results[tools.FormatData].GetString("formatted_data")
	if formatted == "" {
		formatted = content(todo)
	}
	length, ok := todo.Metadata.GetString("length")
	if !ok {
		length = "brief"
	}
	return payload.Map{"content": formatted, "length": length}
}

func approvalArgs(todo models.ToDo, results agents.Results) payload.Map {
	description, _ := results[tools.SummarizeContent].GetString("summary")
	if description == "" {
		description = todo.Description
	}
	return payload.Map{
		"title":       "Approve: " + todo.Description,
		"description": description,
		"options":     []any{"approve", "reject"},
	}
}

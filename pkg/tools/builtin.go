package tools

import (
	"context"
	"fmt"
	"go-supervisor/pkg/payload"
	"regexp"
	"strings"
)

// Builtins returns the in-process research and transform tools. Their results
// are deterministic placeholders standing in for real search and analysis
// backends.
func Builtins() []Spec {
	return []Spec{
		{Name: WebSearch, Description: "Search the web for information about a topic", Required: []string{"query"}, Run: webSearch},
		{Name: AnalyzeData, Description: "Analyze provided data and extract insights", Required: []string{"data"}, Run: analyzeData},
		{Name: GatherContext, Description: "Gather contextual information about a topic", Required: []string{"topic"}, Run: gatherContext},
		{Name: FormatData, Description: "Format data into a specified format", Required: []string{"data"}, Run: formatData},
		{Name: SummarizeContent, Description: "Summarize content to a specified length", Required: []string{"content"}, Run: summarizeContent},
		{Name: ExtractEntities, Description: "Extract capitalized entities from content", Required: []string{"content"}, Run: extractEntities},
	}
}

func webSearch(_ context.Context, args payload.Map) (payload.Map, error) {
	query, _ := args.GetString("query")
	return payload.Map{
		"query": query,
		"results": []any{
			map[string]any{
				"title":   fmt.Sprintf("Article about %s", query),
				"snippet": fmt.Sprintf("Information related to %s...", query),
				"url":     "https://example.com",
			},
		},
		"summary": fmt.Sprintf("Found relevant information about %s", query),
	}, nil
}

func analyzeData(_ context.Context, args payload.Map) (payload.Map, error) {
	kind, ok := args.GetString("analysis_type")
	if !ok || kind == "" {
		kind = "summary"
	}
	data, _ := args.GetString("data")
	return payload.Map{
		"analysis_type": kind,
		"insights":      []any{firstSentence(data), "Key finding 2", "Key finding 3"},
		"summary":       fmt.Sprintf("Analysis of type '%s' completed", kind),
	}, nil
}

func gatherContext(_ context.Context, args payload.Map) (payload.Map, error) {
	topic, _ := args.GetString("topic")
	depth, ok := args.GetString("depth")
	if !ok || depth == "" {
		depth = "moderate"
	}
	return payload.Map{
		"topic": topic,
		"depth": depth,
		"context": map[string]any{
			"background":     fmt.Sprintf("Background information about %s", topic),
			"key_concepts":   []any{"Concept 1", "Concept 2", "Concept 3"},
			"related_topics": []any{"Related topic 1", "Related topic 2"},
		},
		"summary": fmt.Sprintf("Gathered %s context about %s", depth, topic),
	}, nil
}

func formatData(_ context.Context, args payload.Map) (payload.Map, error) {
	format, ok := args.GetString("format_type")
	if !ok || format == "" {
		format = "markdown"
	}
	data, _ := args.GetString("data")
	var formatted string
	switch format {
	case "markdown":
		formatted = "# Result\n\n" + data
	case "html":
		formatted = "<p>" + data + "</p>"
	case "plain":
		formatted = data
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
	return payload.Map{
		"format_type":    format,
		"formatted_data": formatted,
		"summary":        fmt.Sprintf("Data formatted as %s", format),
	}, nil
}

func summarizeContent(_ context.Context, args payload.Map) (payload.Map, error) {
	content, _ := args.GetString("content")
	length, ok := args.GetString("length")
	if !ok || length == "" {
		length = "medium"
	}
	limit := map[string]int{"brief": 60, "medium": 120, "detailed": 240}[length]
	if limit == 0 {
		return nil, fmt.Errorf("unsupported length %q", length)
	}
	return payload.Map{
		"original_length": len(content),
		"summary_length":  length,
		"summary":         truncate(content, limit),
	}, nil
}

var entityPattern = regexp.MustCompile(`\b[A-Z][a-zA-Z0-9]+(?:\s+[A-Z][a-zA-Z0-9]+)*\b`)

func extractEntities(_ context.Context, args payload.Map) (payload.Map, error) {
	content, _ := args.GetString("content")
	seen := map[string]bool{}
	entities := []any{}
	for _, m := range entityPattern.FindAllString(content, -1) {
		if !seen[m] {
			seen[m] = true
			entities = append(entities, m)
		}
	}
	return payload.Map{
		"entities": entities,
		"summary":  fmt.Sprintf("Extracted %d entities", len(entities)),
	}, nil
}

func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, ".!?\n"); i > 0 {
		return s[:i]
	}
	if s == "" {
		return "Key finding 1"
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

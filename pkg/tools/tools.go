// Package tools holds the tools agents may call. Non-interactive tools run
// in-process; interactive (UI) tools are surfaced to the caller and suspend
// the run until a reply arrives.
package tools

import (
	"context"
	"errors"
	"fmt"
	"go-supervisor/pkg/payload"
	"sort"
)

type Tool string

const (
	WebSearch        Tool = "web_search"
	AnalyzeData      Tool = "analyze_data"
	GatherContext    Tool = "gather_context"
	FormatData       Tool = "format_data"
	SummarizeContent Tool = "summarize_content"
	ExtractEntities  Tool = "extract_entities"

	ShowApprovalCard    Tool = "show_approval_card"
	ShowEditableValue   Tool = "show_editable_value"
	ShowDocument        Tool = "show_document"
	ShowOptions         Tool = "show_options"
	ShowResearchSummary Tool = "show_research_summary"
)

// Func executes a non-interactive tool.
type Func func(ctx context.Context, args payload.Map) (payload.Map, error)

// Spec describes a tool.
type Spec struct {
	Name        Tool
	Description string
	Required    []string
	Interactive bool
	Run         Func
}

var (
	ErrUnknownTool = errors.New("unknown tool")
	ErrInteractive = errors.New("interactive tool cannot be invoked in-process")
)

type Registry struct {
	specs map[Tool]Spec
}

func NewRegistry(specs ...Spec) *Registry {
	r := &Registry{specs: make(map[Tool]Spec, len(specs))}
	for _, s := range specs {
		r.specs[s.Name] = s
	}
	return r
}

// Default returns a registry with every built-in and UI tool.
func Default() *Registry {
	specs := append(Builtins(), UI()...)
	return NewRegistry(specs...)
}

func (r *Registry) Lookup(name string) (Spec, bool) {
	s, ok := r.specs[Tool(name)]
	return s, ok
}

func (r *Registry) Interactive(name string) bool {
	s, ok := r.Lookup(name)
	return ok && s.Interactive
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.specs))
	for n := range r.specs {
		names = append(names, string(n))
	}
	sort.Strings(names)
	return names
}

// Validate checks that the tool exists and every required argument is present.
func (r *Registry) Validate(name string, args payload.Map) error {
	s, ok := r.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	for _, key := range s.Required {
		if _, ok := args[key]; !ok {
			return fmt.Errorf("%s: missing required argument %q", name, key)
		}
	}
	if _, err := payload.Normalize(map[string]any(args)); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Invoke runs a non-interactive tool.
func (r *Registry) Invoke(ctx context.Context, name string, args payload.Map) (payload.Map, error) {
	if err := r.Validate(name, args); err != nil {
		return nil, err
	}
	s, _ := r.Lookup(name)
	if s.Interactive || s.Run == nil {
		return nil, fmt.Errorf("%w: %s", ErrInteractive, name)
	}
	out, err := s.Run(ctx, args.Clone())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return payload.From(out)
}

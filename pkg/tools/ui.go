package tools

// UI returns the interactive tools rendered by the caller's front end.
func UI() []Spec {
	return []Spec{
		{Name: ShowApprovalCard, Interactive: true, Required: []string{"title", "description", "options"},
			Description: "Display an approval card with options for the user to approve, edit, or reject"},
		{Name: ShowEditableValue, Interactive: true, Required: []string{"label", "value"},
			Description: "Display an editable value field that the user can modify"},
		{Name: ShowDocument, Interactive: true, Required: []string{"title", "content"},
			Description: "Display a document or content summary with optional metadata"},
		{Name: ShowOptions, Interactive: true, Required: []string{"question", "options"},
			Description: "Display multiple choice options for the user to select from"},
		{Name: ShowResearchSummary, Interactive: true, Required: []string{"title", "findings"},
			Description: "Display a formatted research summary with findings"},
	}
}

package prompts

var (
	PlannerDecision = `
You are the supervisor of a small team of specialist agents. The user submitted the task: "{{.Task}}"

Available agents:
{{.Agents}}

Current plan as an ordered json list of todos:
{{.Plan}}

Ordered json list of summaries the agents reported so far:
{{.History}}

Context metadata: {{.Context}}

Decide how the work continues. You may add todos, change the owner or status of existing todos
(PENDING, IN_PROGRESS, DONE, BLOCKED) and choose which agent acts next. Keep plans short: one todo
per distinct piece of work, each owned by exactly one agent from the list above.

If the work cannot continue without a human, set terminal_status to "ESCALATE" and explain why in notes.

Provide your response in the following json format, return only the json block:
{
    "plan_update": [{"id": "{TODO_ID}", "description": "{DESCRIPTION}", "status": "{STATUS}", "owner_agent": "{AGENT}", "parent_id": "{OPTIONAL_PARENT_ID}", "metadata": {}}],
    "active_agent": "{NEXT_AGENT_OR_EMPTY}",
    "terminal_status": "{EMPTY_OR_DONE_OR_ESCALATE}",
    "notes": "{YOUR_REASONING}"
}
`

	// PlannerDecisionStrict is used once after an answer could not be parsed.
	PlannerDecisionStrict = `
Your previous answer could not be parsed. Answer again for the task: "{{.Task}}"

Available agents:
{{.Agents}}

Current plan:
{{.Plan}}

Agent summaries:
{{.History}}

Context metadata: {{.Context}}

Respond with exactly one json object and nothing else: no prose, no markdown fences, no comments.
Keys: "plan_update" (array of todo objects with string fields id, description, status, owner_agent,
parent_id and an object field metadata), "active_agent" (string), "terminal_status" ("", "DONE" or
"ESCALATE") and "notes" (string).
`

	AgentSummaryTemplate = `
You are the {{.Agent}}, a specialist working on the todo: "{{.Description}}"

These are the ordered json results of the tools you used:
{{.Findings}}

Write a short summary (at most three sentences) of what you found or produced, for your supervisor.
Return only the summary text.
`
)

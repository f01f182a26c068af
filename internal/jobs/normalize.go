package jobs

import (
	"encoding/json"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/user/deepchat/internal/types"
)

// Outcome is the flattened view of one job snapshot. All duck-typed
// probing of result/metadata fields happens once, in Normalize; nothing
// downstream touches the raw maps.
type Outcome struct {
	TrackingID   types.TrackingID
	Status       types.JobStatus
	AnalysisText string
	FinalSummary string
	Actions      []types.ActionSummary
	ToolResults  []types.ToolResult
	PlanID       int64
	PlanTitle    string
	TaskID       int64
	TaskName     string
	Errors       []string
}

// Terminal reports whether the outcome settles the job.
func (o *Outcome) Terminal() bool {
	return o.Status.Terminal()
}

// Normalize flattens a snapshot into an Outcome. It folds wire status
// aliases, gathers analysis/summary text and tool results from every
// payload location, and converts HTML tool payloads to markdown.
// Normalizing the same snapshot twice yields equal outcomes.
func Normalize(s *types.Snapshot) *Outcome {
	o := &Outcome{
		TrackingID: s.TrackingID,
		Status:     foldStatus(s.Status),
		PlanID:     s.PlanID,
		PlanTitle:  s.PlanTitle,
		TaskID:     s.TaskID,
		TaskName:   s.TaskName,
	}

	o.AnalysisText = firstString(
		stringField(s.Result, "analysis_text"),
		stringField(s.Metadata, "analysis_text"),
	)
	o.FinalSummary = firstString(
		stringField(s.Result, "final_summary"),
		stringField(s.Metadata, "final_summary"),
	)

	steps := listField(s.Result, "steps")
	stepActions, stepResults := decodeSteps(steps)
	o.Actions = MergeActions(
		stepActions,
		decodeActions(listField(s.Result, "actions")),
		decodeActions(listField(s.Metadata, "actions")),
	)
	o.ToolResults = MergeToolResults(
		stepResults,
		decodeToolResults(listField(s.Result, "tool_results")),
		decodeToolResults(listField(s.Metadata, "tool_results")),
	)

	if o.PlanID == 0 {
		o.PlanID = numField(s.Result, "plan_id")
	}
	if o.PlanID == 0 {
		o.PlanID = numField(s.Metadata, "plan_id")
	}
	if o.PlanTitle == "" {
		o.PlanTitle = firstString(stringField(s.Result, "plan_title"), stringField(s.Metadata, "plan_title"))
	}
	if o.TaskID == 0 {
		o.TaskID = numField(s.Result, "task_id")
	}
	if o.TaskID == 0 {
		o.TaskID = numField(s.Metadata, "task_id")
	}
	if o.TaskName == "" {
		o.TaskName = firstString(stringField(s.Result, "task_name"), stringField(s.Metadata, "task_name"))
	}
	// Last resort: a plan or task created by one of the actions.
	for _, a := range o.Actions {
		if o.PlanID == 0 {
			o.PlanID = numField(a.Details, "plan_id")
			if o.PlanTitle == "" {
				o.PlanTitle = stringField(a.Details, "plan_title")
			}
		}
		if o.TaskID == 0 {
			o.TaskID = numField(a.Details, "task_id")
			if o.TaskName == "" {
				o.TaskName = stringField(a.Details, "task_name")
			}
		}
	}

	o.Errors = append(o.Errors, s.Errors...)
	if s.Error != "" {
		o.Errors = append(o.Errors, s.Error)
	}
	if msg := stringField(s.Result, "error"); msg != "" {
		o.Errors = append(o.Errors, msg)
	}

	return o
}

// foldStatus maps wire status aliases onto the four canonical states.
// Unknown non-empty values are treated as running so an unexpected
// intermediate status can never finalize a message.
func foldStatus(raw string) types.JobStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "pending", "queued":
		return types.JobPending
	case "running", "in_progress", "processing":
		return types.JobRunning
	case "completed", "succeeded", "success", "done":
		return types.JobCompleted
	case "failed", "error", "failure", "cancelled":
		return types.JobFailed
	default:
		return types.JobRunning
	}
}

func decodeSteps(steps []any) ([]types.ActionSummary, []types.ToolResult) {
	var actions []types.ActionSummary
	var results []types.ToolResult
	for i, raw := range steps {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		actions = append(actions, actionFromMap(m, i+1))
		if tr, ok := m["tool_result"].(map[string]any); ok {
			results = append(results, toolResultFromMap(tr))
		}
	}
	return actions, results
}

func decodeActions(list []any) []types.ActionSummary {
	var actions []types.ActionSummary
	for i, raw := range list {
		if m, ok := raw.(map[string]any); ok {
			actions = append(actions, actionFromMap(m, i+1))
		}
	}
	return actions
}

func decodeToolResults(list []any) []types.ToolResult {
	var results []types.ToolResult
	for _, raw := range list {
		if m, ok := raw.(map[string]any); ok {
			results = append(results, toolResultFromMap(m))
		}
	}
	return results
}

func actionFromMap(m map[string]any, fallbackOrder int) types.ActionSummary {
	a := types.ActionSummary{
		Kind:    firstString(stringField(m, "kind"), stringField(m, "type"), "tool_operation"),
		Name:    firstString(stringField(m, "name"), stringField(m, "tool")),
		Order:   int(numField(m, "order")),
		Status:  stringField(m, "status"),
		Message: firstString(stringField(m, "message"), stringField(m, "thinking")),
	}
	if a.Order == 0 {
		a.Order = fallbackOrder
	}
	if v, ok := m["blocking"].(bool); ok {
		a.Blocking = v
	}
	if v, ok := m["success"].(bool); ok {
		a.Success = &v
	}
	if v, ok := m["params"].(map[string]any); ok {
		a.Params = v
	}
	if v, ok := m["details"].(map[string]any); ok {
		a.Details = v
	}
	return a
}

func toolResultFromMap(m map[string]any) types.ToolResult {
	tr := types.ToolResult{
		Name: firstString(stringField(m, "name"), stringField(m, "tool")),
	}
	if v, ok := m["success"].(bool); ok {
		tr.Success = &v
	}

	payload := m
	if inner, ok := m["result"].(map[string]any); ok {
		payload = inner
		if tr.Success == nil {
			if v, ok := inner["success"].(bool); ok {
				tr.Success = &v
			}
		}
	}
	payload = renderHTMLPayload(payload)

	if data, err := json.Marshal(payload); err == nil {
		tr.Result = data
	}
	return tr
}

// renderHTMLPayload converts an "html" payload field to markdown under
// "content". Conversion failures leave the payload untouched.
func renderHTMLPayload(payload map[string]any) map[string]any {
	html, ok := payload["html"].(string)
	if !ok || html == "" {
		return payload
	}
	md, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		return payload
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if k == "html" {
			continue
		}
		out[k] = v
	}
	out["content"] = strings.TrimSpace(md)
	return out
}

func firstString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func numField(m map[string]any, key string) int64 {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	default:
		return 0
	}
}

func listField(m map[string]any, key string) []any {
	if m == nil {
		return nil
	}
	if v, ok := m[key].([]any); ok {
		return v
	}
	return nil
}

package jobs

import (
	"strings"
	"testing"

	"github.com/user/deepchat/internal/types"
)

func TestNormalizeStatusFolding(t *testing.T) {
	cases := map[string]types.JobStatus{
		"pending":     types.JobPending,
		"queued":      types.JobPending,
		"running":     types.JobRunning,
		"in_progress": types.JobRunning,
		"succeeded":   types.JobCompleted,
		"completed":   types.JobCompleted,
		"error":       types.JobFailed,
		"failed":      types.JobFailed,
		"weird":       types.JobRunning,
	}
	for raw, want := range cases {
		o := Normalize(&types.Snapshot{TrackingID: "j1", Status: raw})
		if o.Status != want {
			t.Errorf("status %q: expected %s, got %s", raw, want, o.Status)
		}
	}
}

func TestNormalizeContentFields(t *testing.T) {
	snap := &types.Snapshot{
		TrackingID: "j1",
		Status:     "succeeded",
		Result: map[string]any{
			"final_summary": "Found 3 results",
		},
		Metadata: map[string]any{
			"analysis_text": "analyzed the query",
		},
	}
	o := Normalize(snap)
	if o.FinalSummary != "Found 3 results" {
		t.Errorf("expected final summary from result, got %q", o.FinalSummary)
	}
	if o.AnalysisText != "analyzed the query" {
		t.Errorf("expected analysis text from metadata, got %q", o.AnalysisText)
	}
	if !o.Terminal() {
		t.Error("succeeded snapshot should be terminal")
	}
}

func TestNormalizeStepsProduceActionsAndResults(t *testing.T) {
	snap := &types.Snapshot{
		TrackingID: "j1",
		Status:     "running",
		Result: map[string]any{
			"steps": []any{
				map[string]any{
					"kind":    "tool_operation",
					"name":    "search",
					"success": true,
					"tool_result": map[string]any{
						"name":    "search",
						"success": true,
						"result":  map[string]any{"hits": float64(3)},
					},
				},
			},
		},
	}
	o := Normalize(snap)
	if len(o.Actions) != 1 {
		t.Fatalf("expected 1 action, got %d", len(o.Actions))
	}
	if o.Actions[0].Order != 1 {
		t.Errorf("step order should default to 1-based position, got %d", o.Actions[0].Order)
	}
	if len(o.ToolResults) != 1 {
		t.Fatalf("expected 1 tool result, got %d", len(o.ToolResults))
	}
	if o.ToolResults[0].Success == nil || !*o.ToolResults[0].Success {
		t.Error("tool result success indicator lost in normalization")
	}
}

func TestNormalizeMergesDuplicateToolResultLocations(t *testing.T) {
	snap := &types.Snapshot{
		TrackingID: "j1",
		Status:     "succeeded",
		Result: map[string]any{
			"tool_results": []any{
				map[string]any{"name": "search"},
			},
		},
		Metadata: map[string]any{
			"tool_results": []any{
				map[string]any{"name": "search", "success": true},
			},
		},
	}
	o := Normalize(snap)
	if len(o.ToolResults) != 1 {
		t.Fatalf("expected duplicate locations to merge, got %d results", len(o.ToolResults))
	}
	if o.ToolResults[0].Success == nil {
		t.Error("expected the success-carrying duplicate to win")
	}
}

func TestNormalizePlanTaskFallbackChain(t *testing.T) {
	// Explicit field beats a derivable action detail.
	snap := &types.Snapshot{
		TrackingID: "j1",
		Status:     "succeeded",
		PlanID:     7,
		Result: map[string]any{
			"steps": []any{
				map[string]any{
					"kind":    "plan_operation",
					"name":    "create_plan",
					"details": map[string]any{"plan_id": float64(99), "task_id": float64(12), "task_name": "align reads"},
				},
			},
		},
	}
	o := Normalize(snap)
	if o.PlanID != 7 {
		t.Errorf("explicit plan_id should win, got %d", o.PlanID)
	}
	if o.TaskID != 12 || o.TaskName != "align reads" {
		t.Errorf("task context should derive from actions, got %d %q", o.TaskID, o.TaskName)
	}
}

func TestNormalizeHTMLPayloadConverted(t *testing.T) {
	snap := &types.Snapshot{
		TrackingID: "j1",
		Status:     "succeeded",
		Result: map[string]any{
			"tool_results": []any{
				map[string]any{
					"name":   "read_url",
					"result": map[string]any{"html": "<h1>Title</h1><p>body text</p>"},
				},
			},
		},
	}
	o := Normalize(snap)
	if len(o.ToolResults) != 1 {
		t.Fatalf("expected 1 tool result, got %d", len(o.ToolResults))
	}
	payload := string(o.ToolResults[0].Result)
	if strings.Contains(payload, "<h1>") {
		t.Errorf("expected HTML converted to markdown, got %s", payload)
	}
	if !strings.Contains(payload, "body text") {
		t.Errorf("converted payload lost content: %s", payload)
	}
}

func TestNormalizeErrorsGathered(t *testing.T) {
	snap := &types.Snapshot{
		TrackingID: "j1",
		Status:     "failed",
		Error:      "boom",
		Errors:     []string{"earlier"},
		Result:     map[string]any{"error": "tool crashed"},
	}
	o := Normalize(snap)
	if len(o.Errors) != 3 {
		t.Fatalf("expected 3 errors, got %v", o.Errors)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	snap := &types.Snapshot{
		TrackingID: "j1",
		Status:     "succeeded",
		Result:     map[string]any{"final_summary": "done", "tool_results": []any{map[string]any{"name": "x"}}},
	}
	a := Normalize(snap)
	b := Normalize(snap)
	if a.FinalSummary != b.FinalSummary || len(a.ToolResults) != len(b.ToolResults) || a.Status != b.Status {
		t.Error("normalizing the same snapshot twice diverged")
	}
}

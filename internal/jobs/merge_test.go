package jobs

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/user/deepchat/internal/types"
)

func boolPtr(v bool) *bool { return &v }

func TestMergeToolResultsDedup(t *testing.T) {
	a := []types.ToolResult{{Name: "search"}}
	b := []types.ToolResult{{Name: "search", Success: boolPtr(true)}}

	merged := MergeToolResults(a, b)
	if len(merged) != 1 {
		t.Fatalf("expected 1 result, got %d", len(merged))
	}
	if merged[0].Success == nil || !*merged[0].Success {
		t.Error("expected the entry carrying success=true to win")
	}
}

func TestMergeToolResultsPrefersLargerPayload(t *testing.T) {
	small := []types.ToolResult{{Name: "search", Result: json.RawMessage(`{}`)}}
	large := []types.ToolResult{{Name: "search", Result: json.RawMessage(`{"hits":3}`)}}

	merged := MergeToolResults(small, large)
	if len(merged) != 1 {
		t.Fatalf("expected 1 result, got %d", len(merged))
	}
	if string(merged[0].Result) != `{"hits":3}` {
		t.Errorf("expected larger payload to win, got %s", merged[0].Result)
	}
}

func TestMergeToolResultsOrderPreserved(t *testing.T) {
	a := []types.ToolResult{{Name: "search"}, {Name: "read"}}
	b := []types.ToolResult{{Name: "search", Success: boolPtr(true)}}

	merged := MergeToolResults(a, b)
	if len(merged) != 2 {
		t.Fatalf("expected 2 results, got %d", len(merged))
	}
	if merged[0].Name != "search" || merged[1].Name != "read" {
		t.Errorf("order not preserved: %+v", merged)
	}
}

func TestMergeToolResultsDeterministic(t *testing.T) {
	a := []types.ToolResult{{Name: "x", Result: json.RawMessage(`{"a":1}`)}}
	b := []types.ToolResult{{Name: "x", Success: boolPtr(false)}, {Name: "y"}}

	first := MergeToolResults(a, b)
	second := MergeToolResults(a, b)
	if !reflect.DeepEqual(first, second) {
		t.Error("merge is not deterministic for identical inputs")
	}
}

func TestMergeToolResultsSamePositionDifferentName(t *testing.T) {
	a := []types.ToolResult{{Name: "search"}}
	b := []types.ToolResult{{Name: "read"}}

	merged := MergeToolResults(a, b)
	if len(merged) != 2 {
		t.Fatalf("different names at the same position are distinct entities, got %d", len(merged))
	}
}

func TestMergeActionsDedup(t *testing.T) {
	a := []types.ActionSummary{{Kind: "tool_operation", Name: "search", Order: 1}}
	b := []types.ActionSummary{{Kind: "tool_operation", Name: "search", Order: 1, Success: boolPtr(true), Status: "completed"}}

	merged := MergeActions(a, b)
	if len(merged) != 1 {
		t.Fatalf("expected 1 action, got %d", len(merged))
	}
	if merged[0].Success == nil {
		t.Error("expected the resolved duplicate to win")
	}
}

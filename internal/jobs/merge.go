package jobs

import "github.com/user/deepchat/internal/types"

type resultKey struct {
	name string
	pos  int
}

// MergeToolResults combines partial tool-result lists from multiple
// payload locations into one de-duplicated, order-preserving list.
// Identity is (name, position within the source list). When duplicates
// collide, the one with a non-nil success indicator wins, then the one
// with the larger payload. The merge is pure and order-stable.
func MergeToolResults(lists ...[]types.ToolResult) []types.ToolResult {
	var merged []types.ToolResult
	index := make(map[resultKey]int)

	for _, list := range lists {
		for pos, tr := range list {
			key := resultKey{name: tr.Name, pos: pos}
			at, seen := index[key]
			if !seen {
				index[key] = len(merged)
				merged = append(merged, tr)
				continue
			}
			if betterToolResult(tr, merged[at]) {
				merged[at] = tr
			}
		}
	}
	return merged
}

// betterToolResult reports whether candidate should replace current.
func betterToolResult(candidate, current types.ToolResult) bool {
	if (candidate.Success != nil) != (current.Success != nil) {
		return candidate.Success != nil
	}
	return len(candidate.Result) > len(current.Result)
}

// MergeActions de-duplicates action summaries by (order, kind, name),
// preserving first-seen order. A duplicate with a resolved success flag
// replaces one without; otherwise one with a non-empty status wins.
func MergeActions(lists ...[]types.ActionSummary) []types.ActionSummary {
	var merged []types.ActionSummary
	index := make(map[types.ActionKey]int)

	for _, list := range lists {
		for _, a := range list {
			key := a.Key()
			at, seen := index[key]
			if !seen {
				index[key] = len(merged)
				merged = append(merged, a)
				continue
			}
			if betterAction(a, merged[at]) {
				merged[at] = a
			}
		}
	}
	return merged
}

func betterAction(candidate, current types.ActionSummary) bool {
	if (candidate.Success != nil) != (current.Success != nil) {
		return candidate.Success != nil
	}
	return candidate.Status != "" && current.Status == ""
}

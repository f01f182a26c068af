// Package message implements the per-message lifecycle: pending →
// streaming → running → completed/failed, with the rule that displayed
// content may only grow or be replaced by a strictly more authoritative
// source, never regress.
package message

import (
	"fmt"
	"strings"
	"time"

	"github.com/user/deepchat/internal/jobs"
	"github.com/user/deepchat/internal/types"
)

// Content authority ranks, lower wins. Streamed deltas are the least
// authoritative: any job-provided content may replace them.
const (
	rankAnalysis    = 1
	rankSummary     = 2
	rankSynthesized = 3
	rankFallback    = 4
	rankStream      = 5
)

// New creates a message for the session. Assistant messages start
// pending with empty content; user messages are complete on creation.
func New(sessionID types.SessionID, role types.Role, content string) *types.Message {
	now := time.Now()
	status := types.StatusCompleted
	if role == types.RoleAssistant {
		status = types.StatusPending
	}
	return &types.Message{
		ID:        types.NewMessageID(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ApplyDelta appends streamed text. Deltas are only valid while the
// message is pending or streaming; anything later is a protocol error
// and the fragment is rejected.
func ApplyDelta(m *types.Message, text string) error {
	switch m.Status {
	case types.StatusPending, types.StatusStreaming:
		m.Content += text
		m.Status = types.StatusStreaming
		m.Meta.ContentRank = rankStream
		m.UpdatedAt = time.Now()
		return nil
	default:
		return fmt.Errorf("delta not allowed in status %s", m.Status)
	}
}

// ApplyOutcome merges a job outcome into the message and returns whether
// anything changed. A message that has reached terminal status is
// settled: reapplying the same terminal outcome, a duplicate delivery
// from the losing push/pull path, or any later snapshot for the tracking
// id is a no-op.
func ApplyOutcome(m *types.Message, o *jobs.Outcome) bool {
	if m.Status.Terminal() {
		return false
	}

	if o.TrackingID != "" {
		m.Meta.TrackingID = o.TrackingID
	}
	m.Meta.Unified = true

	if o.AnalysisText != "" {
		m.Meta.AnalysisText = o.AnalysisText
	}
	if o.FinalSummary != "" {
		m.Meta.FinalSummary = o.FinalSummary
	}
	m.Meta.Actions = jobs.MergeActions(m.Meta.Actions, o.Actions)
	m.Meta.ToolResults = jobs.MergeToolResults(m.Meta.ToolResults, o.ToolResults)
	m.Meta.Errors = appendNewErrors(m.Meta.Errors, o.Errors)

	switch o.Status {
	case types.JobCompleted:
		m.Status = types.StatusCompleted
	case types.JobFailed:
		m.Status = types.StatusFailed
	default:
		m.Status = types.StatusRunning
	}

	candidate, rank := composeContent(&m.Meta, o.Status)
	if candidate != "" && rank <= currentRank(m) {
		m.Content = candidate
		m.Meta.ContentRank = rank
	}

	m.UpdatedAt = time.Now()
	return true
}

// Fail rewrites the message into a user-visible failure explanation.
// The message is never left as an empty bubble.
func Fail(m *types.Message, explanation string) {
	if explanation == "" {
		explanation = "Something went wrong processing your message. Please try again."
	}
	m.Content = explanation
	m.Status = types.StatusFailed
	m.Meta.Errors = appendNewErrors(m.Meta.Errors, []string{explanation})
	m.Meta.ContentRank = rankFallback
	m.UpdatedAt = time.Now()
}

// currentRank is the authority of the message's present content.
// Empty content yields the weakest possible rank so any candidate wins.
func currentRank(m *types.Message) int {
	if strings.TrimSpace(m.Content) == "" {
		return rankStream + 1
	}
	if m.Meta.ContentRank == 0 {
		return rankStream
	}
	return m.Meta.ContentRank
}

// composeContent selects the display text from the merged metadata per
// the precedence order: analysis text, final summary, a synthesized
// per-step summary, then a generic terminal fallback.
func composeContent(meta *types.Meta, status types.JobStatus) (string, int) {
	if meta.AnalysisText != "" {
		return meta.AnalysisText, rankAnalysis
	}
	if meta.FinalSummary != "" {
		return meta.FinalSummary, rankSummary
	}
	if len(meta.Actions) > 0 && status.Terminal() {
		return synthesizeSummary(meta.Actions), rankSynthesized
	}
	switch status {
	case types.JobCompleted:
		return "The background action completed.", rankFallback
	case types.JobFailed:
		if len(meta.Errors) > 0 {
			return "The background action failed: " + meta.Errors[0], rankFallback
		}
		return "The background action failed.", rankFallback
	default:
		return "", rankFallback
	}
}

// synthesizeSummary lists each action with its outcome marker.
func synthesizeSummary(actions []types.ActionSummary) string {
	var b strings.Builder
	for i, a := range actions {
		if i > 0 {
			b.WriteByte('\n')
		}
		marker := "…"
		if a.Success != nil {
			if *a.Success {
				marker = "✓"
			} else {
				marker = "✗"
			}
		}
		fmt.Fprintf(&b, "%d. %s %s", a.Order, marker, a.Name)
		if a.Message != "" {
			fmt.Fprintf(&b, " — %s", a.Message)
		}
	}
	return b.String()
}

func appendNewErrors(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, e := range existing {
		seen[e] = true
	}
	for _, e := range incoming {
		if e != "" && !seen[e] {
			existing = append(existing, e)
			seen[e] = true
		}
	}
	return existing
}

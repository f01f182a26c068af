package message

import (
	"strings"
	"testing"

	"github.com/user/deepchat/internal/jobs"
	"github.com/user/deepchat/internal/types"
)

func newAssistant() *types.Message {
	return New("s1", types.RoleAssistant, "")
}

func TestNewMessageStatuses(t *testing.T) {
	if m := New("s1", types.RoleUser, "hi"); m.Status != types.StatusCompleted {
		t.Errorf("user message should be complete on creation, got %s", m.Status)
	}
	if m := newAssistant(); m.Status != types.StatusPending || m.Content != "" {
		t.Errorf("assistant message should start pending and empty, got %+v", m)
	}
}

func TestApplyDeltaMonotonic(t *testing.T) {
	m := newAssistant()
	fragments := []string{"Let", " me check", "..."}
	var want strings.Builder
	for _, f := range fragments {
		want.WriteString(f)
		if err := ApplyDelta(m, f); err != nil {
			t.Fatalf("delta rejected: %v", err)
		}
		if m.Content != want.String() {
			t.Fatalf("content diverged from concatenation: %q vs %q", m.Content, want.String())
		}
	}
	if m.Status != types.StatusStreaming {
		t.Errorf("expected streaming status, got %s", m.Status)
	}
}

func TestApplyDeltaRejectedAfterRunning(t *testing.T) {
	m := newAssistant()
	ApplyOutcome(m, &jobs.Outcome{TrackingID: "j1", Status: types.JobRunning})
	if m.Status != types.StatusRunning {
		t.Fatalf("expected running, got %s", m.Status)
	}
	if err := ApplyDelta(m, "late"); err == nil {
		t.Error("delta should be rejected once a job is in flight")
	}
	if strings.Contains(m.Content, "late") {
		t.Error("rejected delta must not mutate content")
	}
}

func TestApplyOutcomeNeverShrinksContent(t *testing.T) {
	m := newAssistant()
	ApplyDelta(m, "Let me check...")

	// Non-terminal update with no content fields keeps the streamed text.
	ApplyOutcome(m, &jobs.Outcome{TrackingID: "j1", Status: types.JobRunning})
	if m.Content != "Let me check..." {
		t.Errorf("running update without content shrank the message: %q", m.Content)
	}

	// A non-empty analysis text is more authoritative and replaces it.
	ApplyOutcome(m, &jobs.Outcome{TrackingID: "j1", Status: types.JobRunning, AnalysisText: "Searching the index"})
	if m.Content != "Searching the index" {
		t.Errorf("analysis text should replace streamed text, got %q", m.Content)
	}
}

func TestTerminalIdempotence(t *testing.T) {
	m := newAssistant()
	terminal := &jobs.Outcome{TrackingID: "j1", Status: types.JobCompleted, FinalSummary: "Found 3 results"}

	if !ApplyOutcome(m, terminal) {
		t.Fatal("first terminal apply should change state")
	}
	snapshotAfterFirst := *m

	if ApplyOutcome(m, terminal) {
		t.Error("reapplying the same terminal outcome must be a no-op")
	}
	if m.Content != snapshotAfterFirst.Content || m.Status != snapshotAfterFirst.Status {
		t.Error("duplicate terminal delivery altered settled state")
	}
}

func TestTerminalNeverReverts(t *testing.T) {
	m := newAssistant()
	ApplyOutcome(m, &jobs.Outcome{TrackingID: "j1", Status: types.JobFailed})
	if m.Status != types.StatusFailed {
		t.Fatalf("expected failed, got %s", m.Status)
	}
	ApplyOutcome(m, &jobs.Outcome{TrackingID: "j1", Status: types.JobRunning})
	if m.Status != types.StatusFailed {
		t.Error("terminal status reverted to non-terminal")
	}
}

func TestContentPrecedenceOnRace(t *testing.T) {
	summaryOnly := &jobs.Outcome{TrackingID: "j1", Status: types.JobCompleted, FinalSummary: "summary text"}
	withAnalysis := &jobs.Outcome{TrackingID: "j1", Status: types.JobCompleted, AnalysisText: "analysis text", FinalSummary: "summary text"}

	// Arrival order A then B vs B then A: terminal idempotence means only
	// the first terminal snapshot commits, so the merged content must be
	// checked within a single apply carrying both fields.
	a := newAssistant()
	ApplyOutcome(a, withAnalysis)
	if a.Content != "analysis text" {
		t.Errorf("analysis text outranks final summary, got %q", a.Content)
	}

	b := newAssistant()
	ApplyOutcome(b, &jobs.Outcome{TrackingID: "j1", Status: types.JobRunning, AnalysisText: "analysis text"})
	ApplyOutcome(b, summaryOnly)
	if b.Content != "analysis text" {
		t.Errorf("later summary must not displace earlier analysis text, got %q", b.Content)
	}
}

func TestSynthesizedSummaryFallback(t *testing.T) {
	ok := true
	failed := false
	m := newAssistant()
	ApplyOutcome(m, &jobs.Outcome{
		TrackingID: "j1",
		Status:     types.JobCompleted,
		Actions: []types.ActionSummary{
			{Kind: "tool_operation", Name: "search", Order: 1, Success: &ok, Message: "3 hits"},
			{Kind: "tool_operation", Name: "align", Order: 2, Success: &failed},
		},
	})
	if !strings.Contains(m.Content, "search") || !strings.Contains(m.Content, "align") {
		t.Errorf("synthesized summary should list each step, got %q", m.Content)
	}
	if !strings.Contains(m.Content, "✓") || !strings.Contains(m.Content, "✗") {
		t.Errorf("synthesized summary should carry outcome markers, got %q", m.Content)
	}
}

func TestGenericFallbackSentence(t *testing.T) {
	m := newAssistant()
	ApplyOutcome(m, &jobs.Outcome{TrackingID: "j1", Status: types.JobFailed, Errors: []string{"upstream 500"}})
	if m.Status != types.StatusFailed {
		t.Fatalf("expected failed, got %s", m.Status)
	}
	if !strings.Contains(m.Content, "upstream 500") {
		t.Errorf("failed fallback should surface the first error, got %q", m.Content)
	}
}

func TestFailRewritesEmptyBubble(t *testing.T) {
	m := newAssistant()
	Fail(m, "The service is unreachable. Please retry.")
	if m.Status != types.StatusFailed {
		t.Errorf("expected failed, got %s", m.Status)
	}
	if m.Content == "" {
		t.Error("failed message must never be an empty bubble")
	}
}

package types

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNewSessionID(t *testing.T) {
	id := NewSessionID()
	if id == "" {
		t.Error("expected non-empty SessionID")
	}
	if len(string(id)) != 36 {
		t.Errorf("expected UUID format, got %s", id)
	}
}

func TestSessionKeyFormat(t *testing.T) {
	key := NewSessionKey("cli", "alice")
	if key != SessionKey("cli:alice") {
		t.Errorf("expected cli:alice, got %s", key)
	}
}

func TestMessageStatusTerminal(t *testing.T) {
	terminal := []MessageStatus{StatusCompleted, StatusFailed}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	for _, s := range []MessageStatus{StatusPending, StatusStreaming, StatusRunning} {
		if s.Terminal() {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
}

func TestContentRankNotSerialized(t *testing.T) {
	m := Message{ID: NewMessageID(), Role: RoleAssistant, Content: "x", Status: StatusStreaming}
	m.Meta.ContentRank = 2
	data, err := json.Marshal(&m)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "content_rank") {
		t.Error("content rank is in-memory bookkeeping and must not reach the transcript")
	}
}

func TestMessageCloneIsolation(t *testing.T) {
	m := &Message{ID: NewMessageID(), Content: "original"}
	m.Meta.Errors = []string{"first"}
	m.Meta.Actions = []ActionSummary{{Kind: "tool_operation", Name: "search", Order: 1}}

	c := m.Clone()
	c.Content = "changed"
	c.Meta.Errors = append(c.Meta.Errors, "second")
	c.Meta.Actions[0].Name = "renamed"

	if m.Content != "original" {
		t.Error("clone content mutation leaked into the original")
	}
	if len(m.Meta.Errors) != 1 {
		t.Errorf("original errors = %v", m.Meta.Errors)
	}
	if m.Meta.Actions[0].Name != "search" {
		t.Error("clone action mutation leaked into the original")
	}
}

func TestActionKey(t *testing.T) {
	a := ActionSummary{Kind: "tool_operation", Name: "search", Order: 1, Message: "ok"}
	b := ActionSummary{Kind: "tool_operation", Name: "search", Order: 1, Message: "different text"}
	if a.Key() != b.Key() {
		t.Error("actions with same (order, kind, name) should share identity")
	}
	c := ActionSummary{Kind: "tool_operation", Name: "search", Order: 2}
	if a.Key() == c.Key() {
		t.Error("actions with different order should not share identity")
	}
}

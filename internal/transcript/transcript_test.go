package transcript

import (
	"context"
	"testing"

	"github.com/user/deepchat/internal/types"
)

func TestSessionResolveOrCreate(t *testing.T) {
	store := NewSessionStore(t.TempDir())
	ctx := context.Background()

	id1, err := store.ResolveOrCreate(ctx, "cli:alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id2, err := store.ResolveOrCreate(ctx, "cli:alice")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id1 != id2 {
		t.Errorf("same key should resolve to same session, got %s and %s", id1, id2)
	}

	sess, err := store.Get(ctx, id1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sess.Status != "active" {
		t.Errorf("expected active status, got %s", sess.Status)
	}
}

func TestSessionUpdatePlanContext(t *testing.T) {
	store := NewSessionStore(t.TempDir())
	ctx := context.Background()

	id, err := store.ResolveOrCreate(ctx, "cli:bob")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	sess, _ := store.Get(ctx, id)
	sess.PlanID = 7
	sess.PlanTitle = "variant calling"
	sess.TaskID = 12
	if err := store.Update(ctx, sess); err != nil {
		t.Fatalf("update: %v", err)
	}

	reloaded, _ := store.Get(ctx, id)
	if reloaded.PlanID != 7 || reloaded.PlanTitle != "variant calling" || reloaded.TaskID != 12 {
		t.Errorf("plan/task context not persisted: %+v", reloaded)
	}
}

func TestSessionDelete(t *testing.T) {
	store := NewSessionStore(t.TempDir())
	ctx := context.Background()

	id, _ := store.ResolveOrCreate(ctx, "cli:gone")
	if err := store.Delete(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, id); err == nil {
		t.Error("expected error getting deleted session")
	}
}

func TestMessageLogAppendAssignsSeq(t *testing.T) {
	log := NewMessageLog(t.TempDir())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		msg := &types.Message{ID: types.NewMessageID(), SessionID: "s1", Role: types.RoleUser, Content: "hi", Status: types.StatusCompleted}
		if err := log.Append(ctx, msg); err != nil {
			t.Fatalf("append: %v", err)
		}
		if msg.Seq != int64(i+1) {
			t.Errorf("expected seq %d, got %d", i+1, msg.Seq)
		}
	}

	count, err := log.Count(ctx, "s1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 messages, got %d", count)
	}
}

func TestMessageLogUpdateInPlace(t *testing.T) {
	log := NewMessageLog(t.TempDir())
	ctx := context.Background()

	msg := &types.Message{ID: types.NewMessageID(), SessionID: "s1", Role: types.RoleAssistant, Status: types.StatusPending}
	if err := log.Append(ctx, msg); err != nil {
		t.Fatalf("append: %v", err)
	}

	msg.Content = "Found 3 results"
	msg.Status = types.StatusCompleted
	msg.Meta.TrackingID = "j1"
	if err := log.Update(ctx, msg); err != nil {
		t.Fatalf("update: %v", err)
	}

	msgs, err := log.Tail(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Content != "Found 3 results" || msgs[0].Status != types.StatusCompleted {
		t.Errorf("update not persisted: %+v", msgs[0])
	}
	if msgs[0].Meta.TrackingID != "j1" {
		t.Errorf("metadata bag not persisted: %+v", msgs[0].Meta)
	}
}

func TestMessageLogTailLimit(t *testing.T) {
	log := NewMessageLog(t.TempDir())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		log.Append(ctx, &types.Message{ID: types.NewMessageID(), SessionID: "s1", Role: types.RoleUser})
	}
	msgs, err := log.Tail(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Seq != 4 || msgs[1].Seq != 5 {
		t.Errorf("expected last two messages, got %+v", msgs)
	}
}

func TestMessageLogRewrite(t *testing.T) {
	log := NewMessageLog(t.TempDir())
	ctx := context.Background()

	log.Append(ctx, &types.Message{ID: "local", SessionID: "s1", Role: types.RoleUser, Content: "stale"})

	fresh := []*types.Message{
		{ID: "r1", Seq: 10, SessionID: "s1", Role: types.RoleUser, Content: "from server"},
		{ID: "r2", Seq: 11, SessionID: "s1", Role: types.RoleAssistant, Content: "reply", Status: types.StatusCompleted},
	}
	if err := log.Rewrite(ctx, "s1", fresh); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	msgs, _ := log.Tail(ctx, "s1", 10)
	if len(msgs) != 2 || msgs[0].ID != "r1" || msgs[1].Seq != 11 {
		t.Errorf("rewrite did not replace the log: %+v", msgs)
	}
}

func TestPayloadStoreRoundTrip(t *testing.T) {
	store := NewPayloadStore(t.TempDir())
	ctx := context.Background()

	id, err := store.Put(ctx, "s1", "j1", "search", map[string]any{"hits": 3})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	data, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(data) != `{"hits":3}` {
		t.Errorf("unexpected payload: %s", data)
	}
}

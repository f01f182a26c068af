package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/user/deepchat/internal/jobs"
	"github.com/user/deepchat/internal/types"
)

const titleMaxRunes = 60

// maybeTitle sets the session title from the first user message. Titles
// are assigned once; later messages never rename a session.
func (o *Orchestrator) maybeTitle(ctx context.Context, sid types.SessionID, text string) {
	o.mu.Lock()
	if _, ok := o.titles[sid]; ok {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	sess, err := o.sessions.Get(ctx, sid)
	if err != nil {
		slog.Debug("load session for title", "session_id", string(sid), "error", err)
		return
	}
	if sess.Title == "" {
		sess.Title = truncateTitle(text)
		if err := o.sessions.Update(ctx, sess); err != nil {
			slog.Debug("save session title", "session_id", string(sid), "error", err)
			return
		}
	}
	o.mu.Lock()
	o.titles[sid] = sess.Title
	o.mu.Unlock()
}

func truncateTitle(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= titleMaxRunes {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:titleMaxRunes-1])) + "…"
}

// updateSessionContext folds a terminal outcome's plan and task fields
// into the session record. Zero values never overwrite a known context.
func (o *Orchestrator) updateSessionContext(ctx context.Context, sid types.SessionID, out *jobs.Outcome) {
	if out.PlanID == 0 && out.TaskID == 0 {
		return
	}
	sess, err := o.sessions.Get(ctx, sid)
	if err != nil {
		slog.Debug("load session for context update", "session_id", string(sid), "error", err)
		return
	}
	if out.PlanID != 0 {
		sess.PlanID = out.PlanID
		sess.PlanTitle = out.PlanTitle
	}
	if out.TaskID != 0 {
		sess.TaskID = out.TaskID
		sess.TaskName = out.TaskName
	}
	if err := o.sessions.Update(ctx, sess); err != nil {
		slog.Debug("save session context", "session_id", string(sid), "error", err)
	}
}

// resyncSession reconciles the local transcript with the backend's
// persisted history for the latest page. Server records are
// authoritative for their sequence numbers; local messages that have no
// sequence yet (still in flight) are kept.
func (o *Orchestrator) resyncSession(ctx context.Context, sid types.SessionID) {
	page, err := o.backend.History(ctx, sid, 0, o.pageSize)
	if err != nil {
		slog.Debug("history fetch for resync", "session_id", string(sid), "error", err)
		return
	}
	if len(page.Messages) == 0 {
		return
	}

	local, err := o.transcript.Tail(ctx, sid, 0)
	if err != nil {
		slog.Debug("local transcript for resync", "session_id", string(sid), "error", err)
		return
	}

	merged := mergeBySeq(local, page.Messages)
	if err := o.transcript.Rewrite(ctx, sid, merged); err != nil {
		slog.Error("rewrite transcript", "session_id", string(sid), "error", err)
	}
}

// mergeBySeq merges the server page into the local transcript keyed by
// sequence number. Server wins on collisions; unsequenced local
// messages stay at the end in their original order.
func mergeBySeq(local, server []*types.Message) []*types.Message {
	bySeq := make(map[int64]*types.Message)
	var pending []*types.Message
	for _, m := range local {
		if m.Seq > 0 {
			bySeq[m.Seq] = m
		} else {
			pending = append(pending, m)
		}
	}
	for _, m := range server {
		if m.Seq > 0 {
			bySeq[m.Seq] = m
		}
	}

	seqs := make([]int64, 0, len(bySeq))
	for s := range bySeq {
		seqs = append(seqs, s)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	merged := make([]*types.Message, 0, len(seqs)+len(pending))
	for _, s := range seqs {
		merged = append(merged, bySeq[s])
	}
	return append(merged, pending...)
}

// LoadOlder fetches the history page preceding the oldest locally known
// message and prepends it to the transcript. It returns the newly added
// messages and whether more pages remain.
func (o *Orchestrator) LoadOlder(ctx context.Context, key types.SessionKey, limit int) ([]*types.Message, bool, error) {
	if limit <= 0 {
		limit = o.pageSize
	}
	sid, err := o.sessions.ResolveOrCreate(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("resolve session: %w", err)
	}

	local, err := o.transcript.Tail(ctx, sid, 0)
	if err != nil {
		return nil, false, fmt.Errorf("load transcript: %w", err)
	}
	var before int64
	known := make(map[int64]bool, len(local))
	for _, m := range local {
		if m.Seq > 0 {
			known[m.Seq] = true
			if before == 0 || m.Seq < before {
				before = m.Seq
			}
		}
	}

	page, err := o.backend.History(ctx, sid, before, limit)
	if err != nil {
		return nil, false, fmt.Errorf("fetch history: %w", err)
	}

	var fresh []*types.Message
	for _, m := range page.Messages {
		if m.Seq > 0 && !known[m.Seq] {
			fresh = append(fresh, m)
		}
	}
	if len(fresh) == 0 {
		return nil, page.HasMore, nil
	}

	if err := o.transcript.Rewrite(ctx, sid, mergeBySeq(local, fresh)); err != nil {
		return nil, false, fmt.Errorf("rewrite transcript: %w", err)
	}
	return fresh, page.HasMore, nil
}

// ResyncActive resyncs every session that currently has an in-flight
// reconciliation, so a restarted or long-running UI converges on the
// backend's view. Intended as the periodic resync hook.
func (o *Orchestrator) ResyncActive(ctx context.Context) {
	o.mu.Lock()
	sids := make([]types.SessionID, 0, len(o.inflight))
	for sid := range o.inflight {
		sids = append(sids, sid)
	}
	o.mu.Unlock()

	for _, sid := range sids {
		o.resyncSession(ctx, sid)
	}
}

// ResyncSession forces a history resync for the session behind the key.
func (o *Orchestrator) ResyncSession(ctx context.Context, key types.SessionKey) error {
	sid, err := o.sessions.ResolveOrCreate(ctx, key)
	if err != nil {
		return fmt.Errorf("resolve session: %w", err)
	}
	o.resyncSession(ctx, sid)
	return nil
}

// History returns the locally known transcript for the session, newest
// last.
func (o *Orchestrator) History(ctx context.Context, key types.SessionKey, limit int) ([]*types.Message, error) {
	sid, err := o.sessions.ResolveOrCreate(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	return o.transcript.Tail(ctx, sid, limit)
}

// ClearSession deletes the transcript and the session record.
func (o *Orchestrator) ClearSession(ctx context.Context, key types.SessionKey) error {
	sid, err := o.sessions.ResolveOrCreate(ctx, key)
	if err != nil {
		return fmt.Errorf("resolve session: %w", err)
	}
	if err := o.transcript.Clear(ctx, sid); err != nil {
		return fmt.Errorf("clear transcript: %w", err)
	}
	if err := o.sessions.Delete(ctx, sid); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	o.mu.Lock()
	delete(o.titles, sid)
	o.mu.Unlock()
	return nil
}

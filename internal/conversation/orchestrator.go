// Package conversation drives a chat turn end to end: optimistic message
// pair, stream consumption, job reconciliation, and transcript commits.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/user/deepchat/internal/history"
	"github.com/user/deepchat/internal/jobs"
	"github.com/user/deepchat/internal/message"
	"github.com/user/deepchat/internal/notify"
	"github.com/user/deepchat/internal/stream"
	"github.com/user/deepchat/internal/types"
)

// ErrEmptyMessage is returned when Send is called with empty or
// whitespace-only text.
var ErrEmptyMessage = errors.New("message text is empty")

// pushBuffer sizes the per-tracking-id snapshot channel feeding the
// reconciler. Overflow drops the snapshot; the pull loop recovers it.
const pushBuffer = 16

// Options wires an Orchestrator.
type Options struct {
	Backend    types.Backend
	Opener     *stream.Opener
	Reconciler *jobs.Reconciler
	Tracker    *jobs.Tracker
	Sessions   types.SessionStore
	Transcript types.TranscriptStore
	Payloads   types.PayloadStore // optional: offload store for large tool payloads
	Window     *history.Window    // optional: history window builder
	Notify     *notify.Registry   // optional: detached-finalization notices

	// TurnWindow bounds how long Send waits for job finalization after
	// the stream ends; the reconciliation keeps running detached past it.
	TurnWindow time.Duration
	// FlushInterval throttles streamed-content updates to OnUpdate.
	FlushInterval time.Duration
	// HistoryPageSize is the page size for history fetch and resync.
	HistoryPageSize int
}

// Orchestrator is the top-level driver for one conversation surface.
// All message mutation goes through its single-writer funnel; reads via
// OnUpdate always observe a fully-formed state.
type Orchestrator struct {
	backend    types.Backend
	opener     *stream.Opener
	recon      *jobs.Reconciler
	tracker    *jobs.Tracker
	sessions   types.SessionStore
	transcript types.TranscriptStore
	payloads   types.PayloadStore
	window     *history.Window
	notify     *notify.Registry

	turnWindow    time.Duration
	flushInterval time.Duration
	pageSize      int

	// mu is the single-writer funnel: every message mutation and every
	// registry access happens under it.
	mu       sync.Mutex
	titles   map[types.SessionID]string
	inflight map[types.SessionID]int
	feeds    map[types.TrackingID]chan *types.Snapshot

	// OnUpdate, when set, is invoked after each committed mutation of a
	// message so a presentation layer can repaint.
	OnUpdate func(*types.Message)
}

// New creates an Orchestrator from the given options.
func New(opts Options) *Orchestrator {
	turnWindow := opts.TurnWindow
	if turnWindow <= 0 {
		turnWindow = jobs.DefaultTurnWindow
	}
	pageSize := opts.HistoryPageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Orchestrator{
		backend:       opts.Backend,
		opener:        opts.Opener,
		recon:         opts.Reconciler,
		tracker:       opts.Tracker,
		sessions:      opts.Sessions,
		transcript:    opts.Transcript,
		payloads:      opts.Payloads,
		window:        opts.Window,
		notify:        opts.Notify,
		turnWindow:    turnWindow,
		flushInterval: opts.FlushInterval,
		pageSize:      pageSize,
		titles:        make(map[types.SessionID]string),
		inflight:      make(map[types.SessionID]int),
		feeds:         make(map[types.TrackingID]chan *types.Snapshot),
	}
}

// Send appends a user message and an optimistic pending assistant
// message, opens the event stream, and drives it until a final event or
// job finalization (bounded by TurnWindow; reconciliation continues
// detached past it). On any unrecoverable error the assistant message is
// rewritten to a user-visible failure, never left silently pending.
func (o *Orchestrator) Send(ctx context.Context, key types.SessionKey, text string, chatCtx map[string]any) (*types.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	sid, err := o.sessions.ResolveOrCreate(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}

	user := message.New(sid, types.RoleUser, text)
	if err := o.transcript.Append(ctx, user); err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}
	o.maybeTitle(ctx, sid, text)

	assistant := message.New(sid, types.RoleAssistant, "")
	assistant.Meta.Unified = true
	if err := o.transcript.Append(ctx, assistant); err != nil {
		return nil, fmt.Errorf("append assistant message: %w", err)
	}

	req := &types.StreamRequest{SessionID: sid, Text: text, Context: chatCtx}
	if o.window != nil {
		if tail, err := o.transcript.Tail(ctx, sid, 4*o.pageSize); err == nil {
			req.History = o.window.Build(exclude(tail, user.ID, assistant.ID))
		}
	}

	detached := &atomic.Bool{}
	throttle := message.NewThrottle(o.flushInterval, func(string) {
		o.emit(assistant)
	})
	defer throttle.Close()

	var done chan struct{}

	// Transport failures mid-body share the opener's retry budget: the
	// whole request is replayed with backoff until the stream drains
	// cleanly or the budget runs out. A failure after a job update needs
	// no replay, the pull loop still finalizes the message.
	policy := o.opener.Policy()
	for attempt := 1; ; attempt++ {
		st, err := o.opener.Open(ctx, req)
		if err != nil {
			o.failTurn(ctx, assistant, "The assistant service is unreachable right now. Please try again.")
			return o.snapshot(assistant), fmt.Errorf("open stream: %w", err)
		}
		readErr := o.consumeStream(ctx, st, key, assistant, throttle, detached, &done)
		st.Close()
		if readErr == nil {
			break
		}
		slog.Warn("stream read failed", "session_id", string(sid), "attempt", attempt, "error", readErr)
		if done != nil {
			break
		}
		if attempt >= policy.MaxAttempts || !policy.ShouldRetry(readErr, attempt) {
			o.failTurn(ctx, assistant, "The connection dropped before the answer finished. Please try again.")
			return o.snapshot(assistant), fmt.Errorf("read stream: %w", readErr)
		}
		o.resetStreamedContent(assistant)
		select {
		case <-time.After(policy.NextDelay(attempt)):
		case <-ctx.Done():
			o.failTurn(ctx, assistant, "The connection dropped before the answer finished. Please try again.")
			return o.snapshot(assistant), ctx.Err()
		}
	}
	throttle.Flush()

	// Wait for the reconciliation to settle the message, up to the turn
	// window. Past it the reconciliation keeps running detached and will
	// still resolve the message when it finishes.
	if done != nil && !o.isTerminal(assistant) {
		select {
		case <-done:
		case <-time.After(o.turnWindow):
		case <-ctx.Done():
		}
	}
	detached.Store(true)

	o.settleTurn(ctx, assistant, done != nil)
	return o.snapshot(assistant), nil
}

// consumeStream drains one stream body into the message. Returns nil
// when the stream ends cleanly and the transport error otherwise.
func (o *Orchestrator) consumeStream(ctx context.Context, st *stream.Stream, key types.SessionKey, assistant *types.Message, throttle *message.Throttle, detached *atomic.Bool, done *chan struct{}) error {
	sid := assistant.SessionID
	for {
		ev, err := st.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		switch ev.Kind {
		case stream.KindStart:
			// Nothing to apply.

		case stream.KindDelta:
			o.mu.Lock()
			applyErr := message.ApplyDelta(assistant, ev.Text)
			o.mu.Unlock()
			if applyErr != nil {
				slog.Debug("dropped late delta", "session_id", string(sid), "error", applyErr)
				continue
			}
			throttle.Update(ev.Text)

		case stream.KindJobUpdate:
			if ch := o.ensureReconciliation(ctx, key, assistant, ev.Snapshot, detached, done); ch != nil {
				select {
				case ch <- ev.Snapshot:
				default:
					// Buffer full; the pull loop recovers this snapshot.
				}
			}

		case stream.KindFinal:
			out := jobs.Normalize(ev.Snapshot)
			o.mu.Lock()
			changed := message.ApplyOutcome(assistant, out)
			o.mu.Unlock()
			if changed {
				o.emit(assistant)
			}

		case stream.KindError:
			o.mu.Lock()
			assistant.Meta.Errors = append(assistant.Meta.Errors, ev.Text)
			o.mu.Unlock()
			slog.Warn("stream error event", "session_id", string(sid), "message", ev.Text)
		}
	}
}

// resetStreamedContent discards partially streamed text before a replay
// so a repeated stream does not accrete duplicate deltas. Content that
// already came from a job outcome is left alone.
func (o *Orchestrator) resetStreamedContent(m *types.Message) {
	o.mu.Lock()
	if m.Status == types.StatusPending || m.Status == types.StatusStreaming {
		m.Content = ""
		m.Meta.ContentRank = 0
		m.Status = types.StatusPending
	}
	o.mu.Unlock()
}

// settleTurn persists the assistant message after the stream loop and
// closes out turns that never saw a final event or job.
func (o *Orchestrator) settleTurn(ctx context.Context, assistant *types.Message, hadJob bool) {
	pctx := context.WithoutCancel(ctx)
	o.mu.Lock()
	if !assistant.Status.Terminal() && !hadJob {
		if strings.TrimSpace(assistant.Content) != "" {
			// Plain streamed answer with no background action.
			assistant.Status = types.StatusCompleted
		} else {
			message.Fail(assistant, "The assistant returned an empty response. Please try again.")
		}
	}
	o.mu.Unlock()
	if err := o.persist(pctx, assistant); err != nil {
		slog.Error("persist assistant message", "message_id", string(assistant.ID), "error", err)
	}
	o.emit(assistant)
}

// ensureReconciliation starts the reconciliation loop for the snapshot's
// tracking id if one is not already active, and returns the push feed
// channel for it (nil when the id is empty or the guard rejected it and
// no feed exists).
func (o *Orchestrator) ensureReconciliation(ctx context.Context, key types.SessionKey, assistant *types.Message, snap *types.Snapshot, detached *atomic.Bool, done *chan struct{}) chan *types.Snapshot {
	id := snap.TrackingID
	if id == "" {
		return nil
	}

	o.mu.Lock()
	if ch, ok := o.feeds[id]; ok {
		o.mu.Unlock()
		return ch
	}
	o.mu.Unlock()

	release, ok := o.tracker.Begin(context.WithoutCancel(ctx), id)
	if !ok {
		return nil
	}

	ch := make(chan *types.Snapshot, pushBuffer)
	o.mu.Lock()
	o.feeds[id] = ch
	o.inflight[assistant.SessionID]++
	o.mu.Unlock()

	d := make(chan struct{})
	*done = d

	go o.reconcile(context.WithoutCancel(ctx), key, assistant, id, ch, release, detached, d)
	return ch
}

// reconcile runs one reconciliation loop to completion and folds the
// terminal outcome into the message, session context, and transcript.
func (o *Orchestrator) reconcile(ctx context.Context, key types.SessionKey, assistant *types.Message, id types.TrackingID, push <-chan *types.Snapshot, release func(), detached *atomic.Bool, done chan struct{}) {
	defer close(done)
	defer func() {
		release()
		o.mu.Lock()
		delete(o.feeds, id)
		if o.inflight[assistant.SessionID] > 1 {
			o.inflight[assistant.SessionID]--
		} else {
			delete(o.inflight, assistant.SessionID)
		}
		o.mu.Unlock()
	}()

	out, err := o.recon.Reconcile(ctx, id, push, func(out *jobs.Outcome) {
		o.mu.Lock()
		changed := message.ApplyOutcome(assistant, out)
		o.mu.Unlock()
		if changed {
			o.emit(assistant)
		}
	})
	if err != nil {
		// Timeout or cancellation: leave the message in its last known
		// non-terminal state; never fabricate an outcome.
		slog.Warn("reconciliation gave up", "tracking_id", string(id), "error", err)
		if uerr := o.persist(ctx, assistant); uerr != nil {
			slog.Error("persist message after timeout", "message_id", string(assistant.ID), "error", uerr)
		}
		return
	}

	o.offloadPayloads(ctx, assistant)
	if uerr := o.persist(ctx, assistant); uerr != nil {
		slog.Error("persist finalized message", "message_id", string(assistant.ID), "error", uerr)
	}
	o.updateSessionContext(ctx, assistant.SessionID, out)
	o.resyncSession(ctx, assistant.SessionID)

	if detached.Load() && o.notify != nil {
		o.mu.Lock()
		text := assistant.Content
		o.mu.Unlock()
		if err := o.notify.Deliver(string(key), text); err != nil {
			slog.Debug("finalization notice not delivered", "session_key", string(key), "error", err)
		}
	}
}

// RetryLast retries the most recent turn: if the latest assistant
// message failed with a tracking id, only the background action is
// re-executed; otherwise the last user message is re-sent verbatim.
func (o *Orchestrator) RetryLast(ctx context.Context, key types.SessionKey) (*types.Message, error) {
	sid, err := o.sessions.ResolveOrCreate(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	msgs, err := o.transcript.Tail(ctx, sid, 2*o.pageSize)
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}

	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Role == types.RoleAssistant {
			if m.Status == types.StatusFailed && m.Meta.TrackingID != "" {
				return o.RetryActionRun(ctx, key, m.Meta.TrackingID)
			}
			break
		}
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == types.RoleUser {
			return o.Send(ctx, key, msgs[i].Content, nil)
		}
	}
	return nil, errors.New("nothing to retry")
}

// RetryActionRun requests a new run of the same action set under a fresh
// tracking id and reconciles it poll-only (there is no stream for a
// retry). The new message references the old id for lineage.
func (o *Orchestrator) RetryActionRun(ctx context.Context, key types.SessionKey, oldID types.TrackingID) (*types.Message, error) {
	sid, err := o.sessions.ResolveOrCreate(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}

	resp, err := o.backend.RetryJob(ctx, oldID)
	if err != nil {
		return nil, fmt.Errorf("retry action: %w", err)
	}

	assistant := message.New(sid, types.RoleAssistant, "")
	assistant.Meta.Unified = true
	assistant.Meta.TrackingID = resp.TrackingID
	assistant.Meta.RetryOf = oldID
	assistant.Meta.Actions = resp.Actions
	if err := o.transcript.Append(ctx, assistant); err != nil {
		return nil, fmt.Errorf("append assistant message: %w", err)
	}

	detached := &atomic.Bool{}
	var done chan struct{}
	o.ensureReconciliation(ctx, key, assistant, &types.Snapshot{TrackingID: resp.TrackingID, Status: "pending"}, detached, &done)

	if done != nil && !o.isTerminal(assistant) {
		select {
		case <-done:
		case <-time.After(o.turnWindow):
		case <-ctx.Done():
		}
	}
	detached.Store(true)

	if err := o.persist(context.WithoutCancel(ctx), assistant); err != nil {
		slog.Error("persist retry message", "message_id", string(assistant.ID), "error", err)
	}
	return o.snapshot(assistant), nil
}

// failTurn rewrites the assistant message into a visible failure and
// persists it.
func (o *Orchestrator) failTurn(ctx context.Context, assistant *types.Message, explanation string) {
	o.mu.Lock()
	message.Fail(assistant, explanation)
	o.mu.Unlock()
	if err := o.persist(context.WithoutCancel(ctx), assistant); err != nil {
		slog.Error("persist failed message", "message_id", string(assistant.ID), "error", err)
	}
	o.emit(assistant)
}

// offloadThreshold is the tool payload size above which the raw payload
// moves to the payload store and the transcript keeps a reference.
const offloadThreshold = 32 * 1024

// offloadPayloads moves oversized tool result payloads out of the
// message so the transcript log stays small.
func (o *Orchestrator) offloadPayloads(ctx context.Context, m *types.Message) {
	if o.payloads == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, tr := range m.Meta.ToolResults {
		if len(tr.Result) <= offloadThreshold {
			continue
		}
		pid, err := o.payloads.Put(ctx, m.SessionID, m.Meta.TrackingID, tr.Name, json.RawMessage(tr.Result))
		if err != nil {
			slog.Warn("payload offload failed", "tool", tr.Name, "error", err)
			continue
		}
		ref, _ := json.Marshal(map[string]string{"payload_id": string(pid)})
		m.Meta.ToolResults[i].Result = ref
	}
}

func (o *Orchestrator) isTerminal(m *types.Message) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return m.Status.Terminal()
}

// snapshot clones the message under the write lock so readers outside
// the funnel always observe a fully-formed state, never a partial write.
func (o *Orchestrator) snapshot(m *types.Message) *types.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return m.Clone()
}

// emit hands a stable copy of the message to OnUpdate.
func (o *Orchestrator) emit(m *types.Message) {
	if o.OnUpdate != nil {
		o.OnUpdate(o.snapshot(m))
	}
}

// persist writes a stable copy of the message to the transcript. The
// store marshals the copy, so concurrent mutation cannot tear it.
func (o *Orchestrator) persist(ctx context.Context, m *types.Message) error {
	return o.transcript.Update(ctx, o.snapshot(m))
}

func exclude(msgs []*types.Message, ids ...types.MessageID) []*types.Message {
	skip := make(map[types.MessageID]bool, len(ids))
	for _, id := range ids {
		skip[id] = true
	}
	out := msgs[:0:0]
	for _, m := range msgs {
		if !skip[m.ID] {
			out = append(out, m)
		}
	}
	return out
}

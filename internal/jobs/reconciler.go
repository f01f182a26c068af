package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/user/deepchat/internal/types"
)

// ErrTimeout is returned when a job never reaches terminal status within
// the reconciliation window. The caller must leave the message in its
// last known non-terminal state rather than fabricate an outcome.
var ErrTimeout = errors.New("job reconciliation timed out")

const (
	// DefaultPollInterval is the pull-loop polling cadence.
	DefaultPollInterval = 2500 * time.Millisecond
	// DefaultWindow bounds a detached reconciliation.
	DefaultWindow = 10 * time.Minute
	// DefaultTurnWindow bounds the in-turn wait inside Send.
	DefaultTurnWindow = 90 * time.Second
)

// Reconciler drives a single tracking id to terminal status using two
// concurrent acquisition strategies: snapshots pushed on the stream and a
// pull loop against the status endpoint. Whichever path observes a
// terminal snapshot first wins; the loop stops there, so later terminal
// deliveries on the losing path are never applied by this reconciler.
type Reconciler struct {
	backend types.Backend
	poll    time.Duration
	window  time.Duration
}

// NewReconciler creates a Reconciler. Zero durations use the defaults.
func NewReconciler(backend types.Backend, poll, window time.Duration) *Reconciler {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Reconciler{backend: backend, poll: poll, window: window}
}

// Reconcile loops until the job reaches terminal status, the window
// expires, or the context is cancelled. push may be nil for poll-only
// reconciliation (e.g. action retries, where there is no stream).
// Every accepted outcome is handed to apply, which must be the caller's
// single-writer update funnel. Returns the terminal outcome, or
// ErrTimeout when the window expires first.
func (r *Reconciler) Reconcile(ctx context.Context, id types.TrackingID, push <-chan *types.Snapshot, apply func(*Outcome)) (*Outcome, error) {
	deadline := time.NewTimer(r.window)
	defer deadline.Stop()
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	for {
		select {
		case snap, ok := <-push:
			if !ok {
				push = nil
				continue
			}
			if o := r.accept(id, snap, apply); o != nil {
				return o, nil
			}

		case <-ticker.C:
			snap, err := r.backend.JobStatus(ctx, id)
			if err != nil {
				slog.Debug("job status poll failed", "tracking_id", string(id), "error", err)
				continue
			}
			if o := r.accept(id, snap, apply); o != nil {
				return o, nil
			}

		case <-deadline.C:
			return nil, ErrTimeout

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// accept normalizes and applies one snapshot. Returns the outcome when it
// is terminal, nil otherwise. Snapshots correlating to a different
// tracking id are dropped.
func (r *Reconciler) accept(id types.TrackingID, snap *types.Snapshot, apply func(*Outcome)) *Outcome {
	if snap == nil {
		return nil
	}
	if snap.TrackingID != "" && snap.TrackingID != id {
		return nil
	}
	o := Normalize(snap)
	if o.TrackingID == "" {
		o.TrackingID = id
	}
	apply(o)
	if o.Terminal() {
		return o
	}
	return nil
}

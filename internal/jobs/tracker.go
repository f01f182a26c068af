package jobs

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/user/deepchat/internal/types"
)

// Tracker is the in-flight guard set: at most one reconciliation loop may
// be active per tracking id, and a semaphore caps how many run at once
// across all ids. It is owned by the orchestrator, never a package global.
type Tracker struct {
	mu       sync.Mutex
	inflight map[types.TrackingID]struct{}
	sem      *semaphore.Weighted
}

// NewTracker creates a Tracker allowing up to maxConcurrent simultaneous
// reconciliations.
func NewTracker(maxConcurrent int64) *Tracker {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Tracker{
		inflight: make(map[types.TrackingID]struct{}),
		sem:      semaphore.NewWeighted(maxConcurrent),
	}
}

// Begin reserves the tracking id and acquires a concurrency slot.
// It returns false when a reconciliation for the id is already active or
// the context is cancelled while waiting for a slot. The returned release
// must be called exactly once when the reconciliation finishes.
func (t *Tracker) Begin(ctx context.Context, id types.TrackingID) (release func(), ok bool) {
	t.mu.Lock()
	if _, exists := t.inflight[id]; exists {
		t.mu.Unlock()
		return nil, false
	}
	t.inflight[id] = struct{}{}
	t.mu.Unlock()

	if err := t.sem.Acquire(ctx, 1); err != nil {
		t.remove(id)
		return nil, false
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			t.remove(id)
			t.sem.Release(1)
		})
	}, true
}

// Active reports whether a reconciliation for the id is in flight.
func (t *Tracker) Active(id types.TrackingID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.inflight[id]
	return ok
}

// Len returns the number of in-flight reconciliations.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight)
}

func (t *Tracker) remove(id types.TrackingID) {
	t.mu.Lock()
	delete(t.inflight, id)
	t.mu.Unlock()
}

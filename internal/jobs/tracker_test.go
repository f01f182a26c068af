package jobs

import (
	"context"
	"testing"
)

func TestTrackerRejectsDuplicate(t *testing.T) {
	tr := NewTracker(4)
	ctx := context.Background()

	release, ok := tr.Begin(ctx, "j1")
	if !ok {
		t.Fatal("first Begin should succeed")
	}
	if _, ok := tr.Begin(ctx, "j1"); ok {
		t.Error("second Begin for the same id should be rejected")
	}
	if !tr.Active("j1") {
		t.Error("id should be active while held")
	}

	release()
	if tr.Active("j1") {
		t.Error("id should be released")
	}
	if release2, ok := tr.Begin(ctx, "j1"); !ok {
		t.Error("Begin should succeed again after release")
	} else {
		release2()
	}
}

func TestTrackerReleaseIsIdempotent(t *testing.T) {
	tr := NewTracker(1)
	release, ok := tr.Begin(context.Background(), "j1")
	if !ok {
		t.Fatal("Begin failed")
	}
	release()
	release() // second call must not double-release the semaphore

	release2, ok := tr.Begin(context.Background(), "j2")
	if !ok {
		t.Fatal("slot should be available after release")
	}
	release2()
}

func TestTrackerConcurrencyCap(t *testing.T) {
	tr := NewTracker(1)
	release, ok := tr.Begin(context.Background(), "j1")
	if !ok {
		t.Fatal("Begin failed")
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := tr.Begin(ctx, "j2"); ok {
		t.Error("Begin should fail when no slot is available and the context is done")
	}
	if tr.Active("j2") {
		t.Error("failed Begin must not leave the id reserved")
	}
}

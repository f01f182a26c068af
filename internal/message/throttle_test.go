package message

import (
	"sync"
	"testing"
	"time"
)

func TestThrottleCoalescesUpdates(t *testing.T) {
	var mu sync.Mutex
	var flushes []string
	th := NewThrottle(30*time.Millisecond, func(s string) {
		mu.Lock()
		flushes = append(flushes, s)
		mu.Unlock()
	})
	defer th.Close()

	// Many updates inside one interval coalesce into one flush.
	acc := ""
	for _, f := range []string{"a", "b", "c", "d"} {
		acc += f
		th.Update(acc)
	}
	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(flushes) != 1 {
		t.Fatalf("expected 1 coalesced flush, got %d", len(flushes))
	}
	if flushes[0] != "abcd" {
		t.Errorf("flush must carry the latest accumulated text, got %q", flushes[0])
	}
}

func TestThrottleFlushImmediate(t *testing.T) {
	var mu sync.Mutex
	var got string
	th := NewThrottle(time.Hour, func(s string) {
		mu.Lock()
		got = s
		mu.Unlock()
	})
	defer th.Close()

	th.Update("partial")
	th.Flush()

	mu.Lock()
	defer mu.Unlock()
	if got != "partial" {
		t.Errorf("Flush should deliver pending text immediately, got %q", got)
	}
}

func TestThrottleClosedDropsUpdates(t *testing.T) {
	var mu sync.Mutex
	count := 0
	th := NewThrottle(time.Millisecond, func(string) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	th.Update("x")
	th.Close()

	mu.Lock()
	after := count
	mu.Unlock()

	th.Update("y")
	time.Sleep(10 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != after {
		t.Error("updates after Close must be dropped")
	}
}

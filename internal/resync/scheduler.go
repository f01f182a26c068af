// Package resync periodically refreshes persisted history for sessions
// with in-flight background actions, so a reload after "send and switch
// away" reflects the terminal state without a manual retry.
package resync

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Handler is the callback invoked on each resync tick.
type Handler func()

// Scheduler fires the resync handler on a fixed interval using a cron
// runner.
type Scheduler struct {
	cron *cron.Cron
}

// New creates a Scheduler that invokes handler every intervalSecs
// seconds.
func New(intervalSecs int, handler Handler) (*Scheduler, error) {
	if intervalSecs <= 0 {
		intervalSecs = 30
	}
	c := cron.New()
	spec := fmt.Sprintf("@every %ds", intervalSecs)
	if _, err := c.AddFunc(spec, func() {
		handler()
	}); err != nil {
		return nil, fmt.Errorf("schedule resync: %w", err)
	}
	return &Scheduler{cron: c}, nil
}

// Start begins the ticker.
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("resync scheduler started")
}

// Stop halts the ticker; a tick already in progress finishes.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

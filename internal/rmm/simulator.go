package rmm

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/clock"
	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/clubos"
)

// Demo jobs complete this long after dispatch. Long enough to watch the
// polling lifecycle, short enough for a live walkthrough.
const simulatorCompletesAfter = 5 * time.Second

// Simulator fakes the provider for demo mode: every dispatch succeeds and
// every job completes five seconds later. No network, no credentials, no
// side effects on any real device.
type Simulator struct {
	clock clock.Clock

	mu   sync.Mutex
	last int64
	jobs map[string]time.Time
}

// NewSimulator builds a demo Executor on the given clock.
func NewSimulator(clk clock.Clock) *Simulator {
	return &Simulator{clock: clk, jobs: make(map[string]time.Time)}
}

// Dispatch issues a DEMO- job ID. IDs are strictly increasing within the
// process even when dispatches land on the same clock reading.
func (s *Simulator) Dispatch(_ context.Context, deviceID, scriptID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	stamp := now.UnixNano()
	if stamp <= s.last {
		stamp = s.last + 1
	}
	s.last = stamp

	jobID := fmt.Sprintf("DEMO-%d", stamp)
	s.jobs[jobID] = now
	log.Printf("[INFO] Demo dispatch: script %s on device %s as %s", scriptID, deviceID, jobID)
	return jobID, nil
}

// PollStatus reports dispatched until the completion threshold passes, then
// completed forever after.
func (s *Simulator) PollStatus(_ context.Context, jobID string) (StatusReport, error) {
	s.mu.Lock()
	dispatchedAt, ok := s.jobs[jobID]
	s.mu.Unlock()

	if !ok {
		return StatusReport{}, fmt.Errorf("unknown demo job %q", jobID)
	}
	if s.clock.Now().Sub(dispatchedAt) < simulatorCompletesAfter {
		return StatusReport{State: clubos.StateDispatched}, nil
	}
	return StatusReport{State: clubos.StateCompleted, Result: "demo action completed"}, nil
}

package device

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Simulator is an in-process device client for development and demos.
// Machines in the failure set always fault; every other start succeeds
// after the configured delay.
type Simulator struct {
	delay time.Duration

	mu       sync.RWMutex
	failures map[string]bool
	starts   map[string]int
}

// NewSimulator creates a simulator whose start cycles for the given
// machine IDs fail.
func NewSimulator(failing []string, delay time.Duration) *Simulator {
	s := &Simulator{
		delay:    delay,
		failures: make(map[string]bool, len(failing)),
		starts:   make(map[string]int),
	}
	for _, id := range failing {
		s.failures[id] = true
	}
	return s
}

// SetFailing adds or removes a machine from the failure set.
func (s *Simulator) SetFailing(machineID string, failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if failing {
		s.failures[machineID] = true
		return
	}
	delete(s.failures, machineID)
}

// StartCycle simulates a start cycle.
func (s *Simulator) StartCycle(ctx context.Context, machineID string) error {
	if s.delay > 0 {
		timer := time.NewTimer(s.delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrHardwareFault, ctx.Err())
		}
	}

	s.mu.Lock()
	s.starts[machineID]++
	failing := s.failures[machineID]
	s.mu.Unlock()

	if failing {
		return fmt.Errorf("%w: simulated failure on %s", ErrHardwareFault, machineID)
	}
	return nil
}

// Starts returns how many start cycles were attempted on a machine.
func (s *Simulator) Starts(machineID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.starts[machineID]
}

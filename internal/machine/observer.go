package machine

import (
	"context"
	"time"
)

// Event describes a committed status transition.
type Event struct {
	MachineID  string    `json:"machineId"`
	LocationID string    `json:"locationId"`
	JobID      *string   `json:"jobId,omitempty"`
	From       Status    `json:"from"`
	To         Status    `json:"to"`
	At         time.Time `json:"at"`
}

// Observer is notified after a transition has been written to the store
// and the cache. Observers run on the request goroutine and must not block;
// they cannot change the operation's result.
type Observer interface {
	ObserveTransition(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event)

// ObserveTransition calls f.
func (f ObserverFunc) ObserveTransition(ctx context.Context, ev Event) {
	f(ctx, ev)
}

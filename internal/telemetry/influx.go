package telemetry

import (
	"context"

	"github.com/nerrad567/machine-allocator/internal/infrastructure/influxdb"
	"github.com/nerrad567/machine-allocator/internal/machine"
)

// TransitionWriter is the subset of *influxdb.Client used by InfluxObserver.
type TransitionWriter interface {
	WriteTransition(t influxdb.Transition)
}

// InfluxObserver writes every committed transition to InfluxDB.
type InfluxObserver struct {
	writer TransitionWriter
}

// NewInfluxObserver creates an observer that writes through w.
func NewInfluxObserver(w TransitionWriter) *InfluxObserver {
	return &InfluxObserver{writer: w}
}

// ObserveTransition implements machine.Observer. The write is batched
// by the client and does not block.
func (o *InfluxObserver) ObserveTransition(_ context.Context, ev machine.Event) {
	t := influxdb.Transition{
		MachineID:  ev.MachineID,
		LocationID: ev.LocationID,
		From:       string(ev.From),
		To:         string(ev.To),
		At:         ev.At,
	}
	if ev.JobID != nil {
		t.JobID = *ev.JobID
	}
	o.writer.WriteTransition(t)
}

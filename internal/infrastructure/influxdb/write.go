package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// measurementTransitions holds one point per committed machine status change.
const measurementTransitions = "machine_transitions"

// Transition is a single machine status change.
type Transition struct {
	MachineID  string
	LocationID string
	From       string
	To         string
	JobID      string
	At         time.Time
}

// WriteTransition records a status change. The write is non-blocking.
//
// Tags are the low-cardinality dimensions (machine, location, statuses);
// the job id is a field so it does not blow up series cardinality.
func (c *Client) WriteTransition(t Transition) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(transitionPoint(t))
}

func transitionPoint(t Transition) *write.Point {
	at := t.At
	if at.IsZero() {
		at = time.Now()
	}

	fields := map[string]any{
		"count": 1,
	}
	if t.JobID != "" {
		fields["job_id"] = t.JobID
	}

	return write.NewPoint(
		measurementTransitions,
		map[string]string{
			"machine_id":  t.MachineID,
			"location_id": t.LocationID,
			"from":        t.From,
			"to":          t.To,
		},
		fields,
		at,
	)
}

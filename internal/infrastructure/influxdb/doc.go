// Package influxdb records machine status transitions in InfluxDB.
//
// Every committed transition (AVAILABLE → AWAITING_DROPOFF, AWAITING_DROPOFF
// → RUNNING or ERROR, operator resets) becomes one point in the
// machine_transitions measurement, tagged by machine, location and the two
// statuses. Utilisation and fault-rate dashboards are built from it.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	client.WriteTransition(influxdb.Transition{MachineID: "m1", To: "RUNNING"})
//
// Writes are batched (influxdb.batch_size, influxdb.flush_interval) and
// never block the allocation path.
package influxdb

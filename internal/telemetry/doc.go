// Package telemetry exports allocation metrics and transition history.
//
// Metrics is a prometheus collector set on its own registry, served at
// /metrics. It counts engine results per operation and committed status
// transitions. InfluxObserver forwards the same transitions to InfluxDB.
// Both are machine.Observer implementations registered on the engine.
package telemetry

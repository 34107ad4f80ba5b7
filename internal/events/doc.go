// Package events publishes machine status transitions to NATS.
//
// Each committed transition is sent as JSON on
// <subject_prefix>.<status>, for example
// machinealloc.machines.awaiting_dropoff, so consumers can subscribe to
// one status or to all of them with <subject_prefix>.>.
package events

package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	// The service runs without transition history in that case.
	ErrDisabled = errors.New("influxdb: disabled")

	// ErrConnectionFailed wraps a failed startup ping.
	ErrConnectionFailed = errors.New("influxdb: server unreachable")

	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrWriteFailed wraps batch write failures handed to the SetOnError callback.
	ErrWriteFailed = errors.New("influxdb: batch write failed")
)

package device

import "errors"

// Domain errors for the device package.
var (
	// ErrHardwareFault is wrapped by every StartCycle failure.
	ErrHardwareFault = errors.New("device: hardware fault")

	// ErrAckTimeout is returned (wrapped in ErrHardwareFault) when the
	// controller does not acknowledge a command in time.
	ErrAckTimeout = errors.New("device: ack timeout")

	// ErrInvalidAck is returned by the ack handler for undecodable payloads.
	ErrInvalidAck = errors.New("device: invalid ack")
)

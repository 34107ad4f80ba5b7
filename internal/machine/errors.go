package machine

import "errors"

// Domain errors for the machine package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, machine.ErrMachineNotFound) {
//	    // handle not found case
//	}
var (
	// ErrMachineNotFound is returned when a machine ID does not exist.
	ErrMachineNotFound = errors.New("machine: not found")

	// ErrMachineExists is returned when creating a machine with an ID that already exists.
	ErrMachineExists = errors.New("machine: already exists")

	// ErrInvalidMachine is returned when machine validation fails.
	ErrInvalidMachine = errors.New("machine: invalid")

	// ErrInvalidStatus is returned when a status value is not recognised.
	ErrInvalidStatus = errors.New("machine: invalid status")

	// ErrStatusConflict is returned by CompareAndSwap when the stored status
	// no longer matches the expected one.
	ErrStatusConflict = errors.New("machine: status conflict")

	// ErrAllocationContention is returned when a location keeps losing
	// claims to concurrent allocations beyond the rescan limit.
	ErrAllocationContention = errors.New("machine: allocation contention")
)

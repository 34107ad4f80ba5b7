package machine

import (
	"fmt"
	"regexp"
	"time"
)

// Machine is one physical machine (locker, washer, appliance) known to the allocator.
type Machine struct {
	// ID is the unique, immutable machine identifier.
	ID string `json:"machineId"`

	// LocationID groups machines for candidate search.
	LocationID string `json:"locationId"`

	Status Status `json:"status"`

	// JobID is set by allocation and kept through RUNNING and ERROR.
	JobID *string `json:"jobId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DeepCopy returns a copy that shares no pointers with m.
// Cache implementations store and return copies so callers can't mutate
// cached records.
func (m *Machine) DeepCopy() *Machine {
	if m == nil {
		return nil
	}
	cp := *m
	if m.JobID != nil {
		job := *m.JobID
		cp.JobID = &job
	}
	return &cp
}

// Status is a machine lifecycle state.
type Status string

// Machine statuses.
const (
	StatusAvailable       Status = "AVAILABLE"
	StatusAwaitingDropoff Status = "AWAITING_DROPOFF"
	StatusRunning         Status = "RUNNING"
	StatusError           Status = "ERROR"
)

// AllStatuses returns all valid statuses.
func AllStatuses() []Status {
	return []Status{StatusAvailable, StatusAwaitingDropoff, StatusRunning, StatusError}
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusAvailable, StatusAwaitingDropoff, StatusRunning, StatusError:
		return true
	}
	return false
}

// HoldsJob reports whether a machine in status s carries a job ID.
func (s Status) HoldsJob() bool {
	return s == StatusAwaitingDropoff || s == StatusRunning || s == StatusError
}

// ParseStatus converts a string to a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

// idPattern matches the identifiers accepted in request paths.
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)

// ValidID reports whether id can be addressed through the API.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// Validate checks a machine before it is created.
func (m *Machine) Validate() error {
	if !ValidID(m.ID) {
		return fmt.Errorf("%w: id %q must match %s", ErrInvalidMachine, m.ID, idPattern)
	}
	if m.LocationID == "" {
		return fmt.Errorf("%w: location is required", ErrInvalidMachine)
	}
	if !m.Status.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, m.Status)
	}
	hasJob := m.JobID != nil && *m.JobID != ""
	if hasJob != m.Status.HoldsJob() {
		return fmt.Errorf("%w: job id must be set exactly when status is %s, %s or %s",
			ErrInvalidMachine, StatusAwaitingDropoff, StatusRunning, StatusError)
	}
	return nil
}

package device

import (
	"time"

	"github.com/google/uuid"
)

// CommandStartCycle is the only command the allocator sends.
const CommandStartCycle = "start_cycle"

// CommandMessage is sent from the allocator to a machine controller.
// Topic: machinealloc/command/{machine_id}
type CommandMessage struct {
	// ID correlates the command with its acknowledgement.
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp"`
	MachineID string    `json:"machine_id"`
	Command   string    `json:"command"`

	// Source identifies the allocator instance that issued the command.
	Source string `json:"source,omitempty"`
}

// NewStartCommand builds a start_cycle command with a fresh ID.
func NewStartCommand(machineID, source string) CommandMessage {
	return CommandMessage{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		MachineID: machineID,
		Command:   CommandStartCycle,
		Source:    source,
	}
}

// AckStatus represents the controller's answer to a command.
type AckStatus string

// Acknowledgement statuses.
const (
	// AckAccepted means the cycle started.
	AckAccepted AckStatus = "accepted"

	// AckQueued means the controller received the command and will answer
	// again once the machine responds. The allocator keeps waiting.
	AckQueued AckStatus = "queued"

	// AckFailed means the machine could not start.
	AckFailed AckStatus = "failed"

	// AckTimeout means the controller gave up waiting on the machine.
	AckTimeout AckStatus = "timeout"
)

// AckMessage is sent from a machine controller back to the allocator.
// Topic: machinealloc/ack/{machine_id}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	MachineID string    `json:"machine_id"`
	Status    AckStatus `json:"status"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError carries the controller's failure details.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewAckMessage answers cmd with status. Used by controller simulators and tests.
func NewAckMessage(cmd CommandMessage, status AckStatus) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		MachineID: cmd.MachineID,
		Status:    status,
	}
}

// NewAckError answers cmd with a failure.
func NewAckError(cmd CommandMessage, code, message string) AckMessage {
	ack := NewAckMessage(cmd, AckFailed)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

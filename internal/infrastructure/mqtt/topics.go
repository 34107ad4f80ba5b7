package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the allocator's MQTT hierarchy.
//
//	machinealloc/command/{machine_id}   allocator → machine controller
//	machinealloc/ack/{machine_id}       machine controller → allocator
//	machinealloc/system/status          allocator online/offline (retained, LWT)
const (
	// TopicPrefix is the root of every allocator topic.
	TopicPrefix = "machinealloc"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = TopicPrefix + "/system"
)

// Topics provides builders for allocator MQTT topics.
// Using these helpers keeps topic naming consistent between the publisher
// and the machine controllers.
type Topics struct{}

// MachineCommand returns the topic a machine controller listens on.
//
// Example: machinealloc/command/washer-12
func (Topics) MachineCommand(machineID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, machineID)
}

// MachineAck returns the topic a machine controller acknowledges on.
//
// Example: machinealloc/ack/washer-12
func (Topics) MachineAck(machineID string) string {
	return fmt.Sprintf("%s/ack/%s", TopicPrefix, machineID)
}

// AllMachineAcks returns a wildcard subscription for every machine's acks.
func (Topics) AllMachineAcks() string {
	return TopicPrefix + "/ack/+"
}

// AllMachineCommands returns a wildcard subscription for every machine's commands.
// Used by controller simulators and tests.
func (Topics) AllMachineCommands() string {
	return TopicPrefix + "/command/+"
}

// SystemStatus returns the allocator's retained status topic.
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// MachineIDFromTopic extracts the machine ID from a command or ack topic.
// It returns "" when the topic is not one of those.
func MachineIDFromTopic(topic string) string {
	rest, ok := strings.CutPrefix(topic, TopicPrefix+"/")
	if !ok {
		return ""
	}
	for _, kind := range []string{"command/", "ack/"} {
		if id, found := strings.CutPrefix(rest, kind); found && id != "" && !strings.Contains(id, "/") {
			return id
		}
	}
	return ""
}

// Package device starts physical machine cycles.
//
// Two implementations satisfy the engine's device client contract:
//
//   - MQTTClient publishes a start_cycle command to
//     machinealloc/command/{machine_id} and waits for the controller's ack on
//     machinealloc/ack/{machine_id}, correlated by command ID. A failed ack,
//     a publish error, or no ack within the configured timeout is a
//     hardware fault.
//   - Simulator succeeds or fails per a configured list of machine IDs and
//     is meant for development without controllers.
//
// Every failure returned by either implementation wraps ErrHardwareFault.
package device

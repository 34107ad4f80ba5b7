// Package mqtt provides MQTT client connectivity for the machine allocator.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing with QoS and a payload size cap
//   - Topic subscriptions with wildcard support, restored on reconnect
//   - Last Will and Testament for offline detection
//
// # Architecture
//
// Machine controllers sit behind the broker. The allocator publishes a
// start command per machine and listens for the controller's ack:
//
//	allocator ─▶ machinealloc/command/{id} ─▶ controller
//	allocator ◀─ machinealloc/ack/{id}     ◀─ controller
//
// The request/ack correlation lives in internal/device; this package only
// moves bytes.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllMachineAcks(), 1, handleAck)
//	err = client.Publish(mqtt.Topics{}.MachineCommand(id), payload, 1, false)
//
// TLS should be enabled outside local development (mqtt.broker.tls).
package mqtt

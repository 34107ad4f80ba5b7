package device

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/machine-allocator/internal/infrastructure/mqtt"
)

// defaultAckTimeout applies when MQTTOptions.AckTimeout is zero.
const defaultAckTimeout = 30 * time.Second

// ackBuffer holds a queued ack plus the final answer without blocking the
// MQTT handler goroutine.
const ackBuffer = 4

// Transport is the subset of *mqtt.Client the device client needs.
type Transport interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Logger defines the logging interface used by the device client.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// MQTTOptions configures an MQTTClient.
type MQTTOptions struct {
	QoS        byte
	AckTimeout time.Duration

	// Source is stamped on every command (normally the service ID).
	Source string
}

// MQTTClient starts machine cycles over MQTT with command/ack correlation.
//
// All methods are safe for concurrent use.
type MQTTClient struct {
	transport Transport
	opts      MQTTOptions
	logger    Logger

	mu      sync.Mutex
	pending map[string]chan AckMessage
}

// NewMQTTClient creates a client. Call Start before StartCycle so acks are received.
func NewMQTTClient(transport Transport, opts MQTTOptions) *MQTTClient {
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = defaultAckTimeout
	}
	return &MQTTClient{
		transport: transport,
		opts:      opts,
		logger:    noopLogger{},
		pending:   make(map[string]chan AckMessage),
	}
}

// SetLogger sets the logger for the client.
func (c *MQTTClient) SetLogger(logger Logger) {
	c.logger = logger
}

// Start subscribes to acknowledgements from every machine.
func (c *MQTTClient) Start() error {
	if err := c.transport.Subscribe(mqtt.Topics{}.AllMachineAcks(), c.opts.QoS, c.handleAck); err != nil {
		return fmt.Errorf("subscribing to machine acks: %w", err)
	}
	return nil
}

// Stop unsubscribes from acknowledgements. In-flight StartCycle calls end
// with an ack timeout.
func (c *MQTTClient) Stop() error {
	if err := c.transport.Unsubscribe(mqtt.Topics{}.AllMachineAcks()); err != nil {
		return fmt.Errorf("unsubscribing from machine acks: %w", err)
	}
	return nil
}

// StartCycle publishes a start_cycle command and blocks until the
// controller accepts it, rejects it, or the ack timeout expires.
func (c *MQTTClient) StartCycle(ctx context.Context, machineID string) error {
	cmd := NewStartCommand(machineID, c.opts.Source)
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("%w: encoding command: %w", ErrHardwareFault, err)
	}

	acks := make(chan AckMessage, ackBuffer)
	c.mu.Lock()
	c.pending[cmd.ID] = acks
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, cmd.ID)
		c.mu.Unlock()
	}()

	if err := c.transport.Publish(mqtt.Topics{}.MachineCommand(machineID), payload, c.opts.QoS, false); err != nil {
		return fmt.Errorf("%w: publishing start command: %w", ErrHardwareFault, err)
	}
	c.logger.Debug("start command published", "machine_id", machineID, "command_id", cmd.ID)

	timer := time.NewTimer(c.opts.AckTimeout)
	defer timer.Stop()

	for {
		select {
		case ack := <-acks:
			switch ack.Status {
			case AckAccepted:
				return nil
			case AckQueued:
				c.logger.Debug("start command queued", "machine_id", machineID, "command_id", cmd.ID)
				continue
			default:
				return ackFailure(ack)
			}
		case <-timer.C:
			return fmt.Errorf("%w: %w after %v", ErrHardwareFault, ErrAckTimeout, c.opts.AckTimeout)
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrHardwareFault, ctx.Err())
		}
	}
}

// Pending returns the number of commands awaiting an ack.
func (c *MQTTClient) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// handleAck routes an ack to the waiting StartCycle call. Acks for
// unknown commands (late, or from another allocator instance) are dropped.
func (c *MQTTClient) handleAck(topic string, payload []byte) error {
	var ack AckMessage
	if err := json.Unmarshal(payload, &ack); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAck, err)
	}
	if ack.CommandID == "" {
		return fmt.Errorf("%w: missing command_id", ErrInvalidAck)
	}
	if id := mqtt.MachineIDFromTopic(topic); id != "" && ack.MachineID != "" && id != ack.MachineID {
		c.logger.Warn("ack machine does not match topic", "topic", topic, "machine_id", ack.MachineID)
	}

	c.mu.Lock()
	acks, ok := c.pending[ack.CommandID]
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("ack for unknown command dropped", "command_id", ack.CommandID, "topic", topic)
		return nil
	}

	select {
	case acks <- ack:
	default:
		c.logger.Warn("ack buffer full, dropping ack", "command_id", ack.CommandID)
	}
	return nil
}

func ackFailure(ack AckMessage) error {
	if ack.Error != nil {
		return fmt.Errorf("%w: controller answered %s: %s (%s)",
			ErrHardwareFault, ack.Status, ack.Error.Message, ack.Error.Code)
	}
	if ack.Status == AckTimeout {
		return fmt.Errorf("%w: %w reported by controller", ErrHardwareFault, ErrAckTimeout)
	}
	return fmt.Errorf("%w: controller answered %q", ErrHardwareFault, ack.Status)
}

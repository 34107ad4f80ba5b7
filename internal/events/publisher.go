package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/nerrad567/machine-allocator/internal/infrastructure/config"
	"github.com/nerrad567/machine-allocator/internal/machine"
)

const (
	defaultSubjectPrefix = "machinealloc.machines"
	reconnectWait        = 2 * time.Second
	drainTimeout         = 5 * time.Second

	// closeWait outlasts drainTimeout so the client's own deadline fires
	// the closed callback first.
	closeWait = drainTimeout + time.Second
)

// ErrDisabled is returned by Connect when events are turned off in config.
var ErrDisabled = errors.New("events: disabled in configuration")

// ErrNotConnected is returned by HealthCheck when the connection is down.
var ErrNotConnected = errors.New("events: not connected")

// ErrDrainTimeout is returned by Close when buffered events were not flushed
// in time.
var ErrDrainTimeout = errors.New("events: drain timed out")

// Conn is the subset of *nats.Conn used by Publisher.
type Conn interface {
	Publish(subject string, data []byte) error
	IsConnected() bool
	Drain() error
	Close()
}

// Logger defines the logging interface used by the publisher.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Publisher is a machine.Observer that forwards transitions to NATS.
type Publisher struct {
	conn   Conn
	prefix string
	logger Logger

	// closed is signalled once the connection has finished draining.
	// Nil for connections wrapped by NewPublisher.
	closed       chan struct{}
	drainTimeout time.Duration
}

// Connect dials the NATS server in cfg. Reconnects are unlimited; events
// published while disconnected are buffered by the client.
func Connect(cfg config.EventsConfig, name string, logger Logger) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if logger == nil {
		logger = noopLogger{}
	}

	closed := make(chan struct{})
	var closeOnce sync.Once

	nc, err := nats.Connect(cfg.URL,
		nats.Name(name),
		nats.DrainTimeout(drainTimeout),
		nats.ClosedHandler(func(*nats.Conn) {
			closeOnce.Do(func() { close(closed) })
		}),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	p := NewPublisher(nc, cfg.SubjectPrefix)
	p.logger = logger
	p.closed = closed
	return p, nil
}

// NewPublisher wraps an existing connection.
func NewPublisher(conn Conn, subjectPrefix string) *Publisher {
	if subjectPrefix == "" {
		subjectPrefix = defaultSubjectPrefix
	}
	return &Publisher{
		conn:   conn,
		prefix:       strings.TrimSuffix(subjectPrefix, "."),
		logger:       noopLogger{},
		drainTimeout: closeWait,
	}
}

// Subject returns the subject transitions into status are published on.
func (p *Publisher) Subject(status machine.Status) string {
	return p.prefix + "." + strings.ToLower(string(status))
}

// ObserveTransition implements machine.Observer. Publish failures are
// logged and otherwise ignored.
func (p *Publisher) ObserveTransition(_ context.Context, ev machine.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn("encoding transition event", "machine_id", ev.MachineID, "error", err)
		return
	}
	if err := p.conn.Publish(p.Subject(ev.To), data); err != nil {
		p.logger.Warn("publishing transition event", "machine_id", ev.MachineID, "to", ev.To, "error", err)
	}
}

// HealthCheck reports whether the connection is up.
func (p *Publisher) HealthCheck(_ context.Context) error {
	if !p.conn.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Close drains pending messages and closes the connection.
//
// Drain only starts the flush, so Close waits for the connection's closed
// callback. After the drain timeout the connection is closed outright and
// ErrDrainTimeout is returned; events still buffered at that point are lost.
func (p *Publisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return fmt.Errorf("draining nats connection: %w", err)
	}
	if p.closed == nil {
		return nil
	}

	timer := time.NewTimer(p.drainTimeout)
	defer timer.Stop()

	select {
	case <-p.closed:
		return nil
	case <-timer.C:
		p.conn.Close()
		return ErrDrainTimeout
	}
}

package mqtt

import "errors"

// Errors returned by Client. Broker failures are wrapped around these, so
// callers match them with errors.Is.
var (
	// ErrNotConnected means the broker link is down. Paho keeps
	// reconnecting in the background; callers may retry later.
	ErrNotConnected = errors.New("mqtt: not connected to broker")

	ErrConnectionFailed  = errors.New("mqtt: broker connection failed")
	ErrPublishFailed     = errors.New("mqtt: publish not delivered")
	ErrSubscribeFailed   = errors.New("mqtt: subscription rejected")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe rejected")

	// ErrInvalidQoS is returned for a QoS above 2.
	ErrInvalidQoS = errors.New("mqtt: qos must be 0, 1 or 2")

	ErrInvalidTopic = errors.New("mqtt: empty topic")
)

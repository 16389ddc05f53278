// Package bus is the publish/subscribe transport between door readers and
// the access engine.
package bus

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrNotConnected = errors.New("bus: not connected")
	ErrTimeout      = errors.New("bus: operation timed out")
)

type Message struct {
	Topic   string
	Payload []byte
}

// Client is one broker connection.  Reconnection is the caller's job: after
// the lost channel fires, call Connect again and resubscribe.
type Client interface {
	// Connect opens a session.  The returned channel receives exactly one
	// value if the session is lost; it never fires after Disconnect.
	Connect(ctx context.Context) (lost <-chan error, err error)
	// Subscribe delivers messages matching filter on the returned channel
	// until the session ends.
	Subscribe(ctx context.Context, filter string, qos byte) (<-chan Message, error)
	Publish(ctx context.Context, topic string, qos byte, payload []byte) error
	Disconnect()
}

// Match reports whether topic matches an MQTT subscription filter, with
// "+" matching one level and a trailing "#" matching any remainder,
// including the parent level.  Topics starting with "$" never match a
// filter whose first level is a wildcard.
func Match(filter, topic string) bool {
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")
	if strings.HasPrefix(topic, "$") && (fs[0] == "#" || fs[0] == "+") {
		return false
	}
	for i, f := range fs {
		if f == "#" {
			return i == len(fs)-1
		}
		if i >= len(ts) {
			return false
		}
		if f != "+" && f != ts[i] {
			return false
		}
	}
	return len(fs) == len(ts)
}

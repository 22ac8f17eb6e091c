// Package transport provides the bidirectional event channel the sync engine
// runs on: an abstract Channel plus a WebSocket implementation.
package transport

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotConnected is returned by Emit when no connection is open.
var ErrNotConnected = errors.New("transport: not connected")

// Sink receives decoded inbound frames and lifecycle notifications. All
// callbacks are invoked from a single goroutine per connection, in delivery
// order.
type Sink interface {
	HandleEvent(eventType string, data json.RawMessage)
	HandleDisconnected(reason string)
}

// Channel is one logical connection to the assistant service. Delivery is
// in-order and at-most-once for the lifetime of a dial.
type Channel interface {
	// Dial opens the connection and begins delivering inbound frames to
	// the sink. It returns once the connection is established.
	Dial(ctx context.Context, sink Sink) error

	// Emit marshals v and sends it on the open connection.
	Emit(v any) error

	// Close tears down the connection. Safe to call when not connected.
	Close() error
}

// Package transporttest provides a scriptable in-memory Channel for tests.
package transporttest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/confscout/chatsync/internal/transport"
)

// Frame is one emitted outbound event, decoded enough to assert on.
type Frame struct {
	Type string
	Data json.RawMessage
}

// Channel is an in-memory transport.Channel. Tests deliver inbound events
// with Deliver and inspect outbound traffic with Sent.
type Channel struct {
	mu        sync.Mutex
	sink      transport.Sink
	connected bool
	frames    []Frame

	// DialErr, when set, makes Dial fail.
	DialErr error
	// EmitErr, when set, makes Emit fail.
	EmitErr error
}

// New creates a disconnected test channel.
func New() *Channel {
	return &Channel{}
}

// Dial records the sink and marks the channel connected.
func (c *Channel) Dial(ctx context.Context, sink transport.Sink) error {
	if c.DialErr != nil {
		return c.DialErr
	}
	c.mu.Lock()
	c.sink = sink
	c.connected = true
	c.mu.Unlock()
	return nil
}

// Emit records the outbound event.
func (c *Channel) Emit(v any) error {
	if c.EmitErr != nil {
		return c.EmitErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return transport.ErrNotConnected
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	c.frames = append(c.frames, Frame{Type: env.Type, Data: data})
	return nil
}

// Close marks the channel disconnected without notifying the sink.
func (c *Channel) Close() error {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	return nil
}

// Deliver marshals v and hands it to the sink as an inbound event. It panics
// if the channel was never dialed or v has no type field, since that is a
// test setup mistake.
func (c *Channel) Deliver(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("transporttest: marshal: %v", err))
	}
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		panic("transporttest: delivered event has no type")
	}
	c.mu.Lock()
	sink := c.sink
	c.mu.Unlock()
	if sink == nil {
		panic("transporttest: Deliver before Dial")
	}
	sink.HandleEvent(env.Type, data)
}

// Drop simulates a connection loss.
func (c *Channel) Drop(reason string) {
	c.mu.Lock()
	sink := c.sink
	c.connected = false
	c.mu.Unlock()
	if sink != nil {
		sink.HandleDisconnected(reason)
	}
}

// Sent returns all outbound frames emitted so far.
func (c *Channel) Sent() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Frame, len(c.frames))
	copy(out, c.frames)
	return out
}

// SentOfType returns the outbound frames with the given type.
func (c *Channel) SentOfType(eventType string) []Frame {
	var out []Frame
	for _, f := range c.Sent() {
		if f.Type == eventType {
			out = append(out, f)
		}
	}
	return out
}

// Reset discards recorded outbound frames.
func (c *Channel) Reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

// Package connection owns the lifecycle of the logical channel to the
// assistant service. It has no knowledge of chat semantics: higher layers
// emit through it and consume its state.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/confscout/chatsync/internal/protocol"
	"github.com/confscout/chatsync/internal/transport"
)

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected" // socket open, handshake not acknowledged
	StateReady        State = "ready"
	StateFatal        State = "fatal"
)

var (
	// ErrNotReady is returned by Emit before the server handshake has been
	// acknowledged. Commands are rejected rather than queued.
	ErrNotReady = errors.New("connection: server not ready")

	// ErrFatal is returned while the connection is in the fatal absorbing
	// state. Only a fresh Connect with a credential leaves it.
	ErrFatal = errors.New("connection: fatal state, re-authentication required")
)

// Identity is the server-confirmed caller identity from the handshake ack.
type Identity struct {
	SessionID string
	UserID    string
	Email     string
}

// Manager drives the channel state machine. It is not internally locked; the
// engine serializes all calls.
type Manager struct {
	ch  transport.Channel
	log *slog.Logger

	state      State
	credential string
	identity   Identity
}

// NewManager creates a manager over the given channel.
func NewManager(ch transport.Channel, log *slog.Logger) *Manager {
	return &Manager{ch: ch, log: log, state: StateDisconnected}
}

// State returns the current lifecycle state.
func (m *Manager) State() State { return m.state }

// Ready reports whether the handshake has been acknowledged.
func (m *Manager) Ready() bool { return m.state == StateReady }

// Fatal reports whether the connection is in the fatal absorbing state.
func (m *Manager) Fatal() bool { return m.state == StateFatal }

// Identity returns the handshake identity. Zero value before ready.
func (m *Manager) Identity() Identity { return m.identity }

// Connect dials the channel and sends the handshake. Providing a credential
// is an explicit re-authentication, so it also leaves the fatal state.
func (m *Manager) Connect(ctx context.Context, credential string, sink transport.Sink) error {
	if m.state == StateConnecting || m.state == StateConnected || m.state == StateReady {
		return fmt.Errorf("connection: already %s", m.state)
	}

	m.credential = credential
	m.state = StateConnecting
	if err := m.ch.Dial(ctx, sink); err != nil {
		m.state = StateDisconnected
		return fmt.Errorf("connection: dial: %w", err)
	}
	m.state = StateConnected

	hello := protocol.HelloEvent{
		BaseEvent: protocol.BaseEvent{Type: protocol.TypeHello, Ts: time.Now().UnixMilli()},
		Token:     credential,
	}
	if err := m.ch.Emit(hello); err != nil {
		m.state = StateDisconnected
		m.ch.Close()
		return fmt.Errorf("connection: handshake: %w", err)
	}
	return nil
}

// Reconnect re-dials with the stored credential. It is blocked in the fatal
// state: the server rejected the session, so retrying without a new
// credential would only fail again.
func (m *Manager) Reconnect(ctx context.Context, sink transport.Sink) error {
	if m.state == StateFatal {
		return ErrFatal
	}
	return m.Connect(ctx, m.credential, sink)
}

// Disconnect tears down the channel. The fatal state is preserved.
func (m *Manager) Disconnect() {
	m.ch.Close()
	if m.state != StateFatal {
		m.state = StateDisconnected
	}
}

// Emit sends an event on the ready connection.
func (m *Manager) Emit(v any) error {
	switch m.state {
	case StateFatal:
		return ErrFatal
	case StateReady:
		return m.ch.Emit(v)
	default:
		return ErrNotReady
	}
}

// HandleHelloAck transitions to ready with the server-confirmed identity.
func (m *Manager) HandleHelloAck(ev protocol.HelloAckEvent) {
	m.identity = Identity{SessionID: ev.SessionID, UserID: ev.UserID, Email: ev.Email}
	m.state = StateReady
	m.log.Info("connection ready", "session_id", ev.SessionID)
}

// HandleDisconnected records a connection drop. Fatal is absorbing.
func (m *Manager) HandleDisconnected(reason string) {
	if m.state == StateFatal {
		return
	}
	m.state = StateDisconnected
	m.log.Warn("disconnected", "reason", reason)
}

// HandleAuthError enters the fatal state and closes the channel: the server
// has rejected the session, no further commands may be attempted.
func (m *Manager) HandleAuthError(code, message string) {
	m.log.Error("authentication rejected", "code", code, "message", message)
	m.ForceFatal()
}

// ForceFatal enters the fatal absorbing state and tears the channel down.
func (m *Manager) ForceFatal() {
	m.state = StateFatal
	m.ch.Close()
}

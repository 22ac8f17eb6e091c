package connection

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confscout/chatsync/internal/protocol"
	"github.com/confscout/chatsync/internal/transport/transporttest"
)

type nopSink struct{}

func (nopSink) HandleEvent(string, json.RawMessage) {}
func (nopSink) HandleDisconnected(string)           {}

func newManager() (*Manager, *transporttest.Channel) {
	ch := transporttest.New()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(ch, log), ch
}

func TestConnectSendsHandshake(t *testing.T) {
	m, ch := newManager()
	assert.Equal(t, StateDisconnected, m.State())

	require.NoError(t, m.Connect(context.Background(), "tok-1", nopSink{}))
	assert.Equal(t, StateConnected, m.State())
	assert.False(t, m.Ready())

	frames := ch.SentOfType(protocol.TypeHello)
	require.Len(t, frames, 1)
	var hello protocol.HelloEvent
	require.NoError(t, json.Unmarshal(frames[0].Data, &hello))
	assert.Equal(t, "tok-1", hello.Token)
}

func TestConnectWhileConnectedRejected(t *testing.T) {
	m, _ := newManager()
	require.NoError(t, m.Connect(context.Background(), "", nopSink{}))
	assert.Error(t, m.Connect(context.Background(), "", nopSink{}))
}

func TestConnectDialFailure(t *testing.T) {
	m, ch := newManager()
	ch.DialErr = errors.New("refused")

	err := m.Connect(context.Background(), "", nopSink{})
	require.Error(t, err)
	assert.Equal(t, StateDisconnected, m.State())
}

func TestEmitGatedOnReadiness(t *testing.T) {
	m, ch := newManager()
	assert.ErrorIs(t, m.Emit(struct{}{}), ErrNotReady)

	require.NoError(t, m.Connect(context.Background(), "", nopSink{}))
	assert.ErrorIs(t, m.Emit(struct{}{}), ErrNotReady)

	m.HandleHelloAck(protocol.HelloAckEvent{SessionID: "s1", UserID: "u1", Email: "u@confscout.dev"})
	assert.Equal(t, StateReady, m.State())
	assert.Equal(t, "s1", m.Identity().SessionID)
	assert.Equal(t, "u@confscout.dev", m.Identity().Email)

	ev := protocol.BaseEvent{Type: protocol.TypeGetInitialConversations}
	require.NoError(t, m.Emit(ev))
	assert.Len(t, ch.SentOfType(protocol.TypeGetInitialConversations), 1)
}

func TestAuthErrorEntersFatal(t *testing.T) {
	m, _ := newManager()
	require.NoError(t, m.Connect(context.Background(), "bad", nopSink{}))
	m.HandleHelloAck(protocol.HelloAckEvent{SessionID: "s1"})

	m.HandleAuthError(protocol.CodeAuthRequired, "token rejected")

	assert.Equal(t, StateFatal, m.State())
	assert.True(t, m.Fatal())
	assert.ErrorIs(t, m.Emit(struct{}{}), ErrFatal)
}

func TestFatalIsAbsorbing(t *testing.T) {
	m, _ := newManager()
	require.NoError(t, m.Connect(context.Background(), "bad", nopSink{}))
	m.ForceFatal()

	// Neither a drop nor a plain disconnect leaves the fatal state.
	m.HandleDisconnected("socket closed")
	assert.Equal(t, StateFatal, m.State())
	m.Disconnect()
	assert.Equal(t, StateFatal, m.State())

	// Reconnect with the stored credential is refused.
	assert.ErrorIs(t, m.Reconnect(context.Background(), nopSink{}), ErrFatal)
}

func TestConnectWithCredentialLeavesFatal(t *testing.T) {
	m, _ := newManager()
	require.NoError(t, m.Connect(context.Background(), "bad", nopSink{}))
	m.ForceFatal()

	require.NoError(t, m.Connect(context.Background(), "fresh-token", nopSink{}))
	assert.Equal(t, StateConnected, m.State())
}

func TestDisconnectedEventResetsState(t *testing.T) {
	m, _ := newManager()
	require.NoError(t, m.Connect(context.Background(), "", nopSink{}))
	m.HandleHelloAck(protocol.HelloAckEvent{SessionID: "s1"})

	m.HandleDisconnected("read error")

	assert.Equal(t, StateDisconnected, m.State())
	assert.ErrorIs(t, m.Emit(struct{}{}), ErrNotReady)
}

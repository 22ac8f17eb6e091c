package directory

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confscout/chatsync/internal/notify"
	"github.com/confscout/chatsync/internal/protocol"
)

type fakeEmitter struct {
	events []any
	err    error
	ready  bool
}

func (f *fakeEmitter) Emit(v any) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, v)
	return nil
}

func (f *fakeEmitter) Ready() bool { return f.ready }

type fakeNotifier struct {
	notices []notify.Notice
}

func (f *fakeNotifier) Report(err any, _ notify.Options) {
	f.notices = append(f.notices, notify.Normalize(err))
}

type fakeTimeline struct {
	resets int
}

func (f *fakeTimeline) Reset() { f.resets++ }

func newDirectory() (*Directory, *fakeEmitter, *fakeNotifier, *fakeTimeline) {
	emit := &fakeEmitter{ready: true}
	notes := &fakeNotifier{}
	tl := &fakeTimeline{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(emit, notes, tl, log), emit, notes, tl
}

func TestLoadActivatesAndRequestsHistory(t *testing.T) {
	d, emit, _, tl := newDirectory()
	d.Load("c1")

	assert.Equal(t, "c1", d.ActiveID())
	assert.True(t, d.Loading())
	assert.False(t, d.HistoryLoaded())
	assert.Equal(t, 1, tl.resets)

	require.Len(t, emit.events, 1)
	ev := emit.events[0].(protocol.BaseEvent)
	assert.Equal(t, protocol.TypeLoadConversation, ev.Type)
	assert.Equal(t, "c1", ev.ConversationID)
}

func TestLoadOfLoadedActiveIsNoop(t *testing.T) {
	d, emit, _, tl := newDirectory()
	d.Load("c1")
	d.HandleHistoryLoaded("c1")

	d.Load("c1")

	assert.Len(t, emit.events, 1)
	assert.Equal(t, 1, tl.resets)
	assert.Equal(t, "c1", d.ActiveID())
}

func TestDuplicateConcurrentLoadSuppressed(t *testing.T) {
	d, emit, _, _ := newDirectory()
	d.Load("c1")
	d.Load("c1")

	assert.Len(t, emit.events, 1)
}

func TestLoadSwitchResetsTimeline(t *testing.T) {
	d, _, _, tl := newDirectory()
	d.Load("c1")
	d.HandleHistoryLoaded("c1")
	d.Load("c2")

	assert.Equal(t, "c2", d.ActiveID())
	assert.False(t, d.HistoryLoaded())
	assert.Equal(t, 2, tl.resets)
}

func TestLoadEmitFailureClearsLoadingFlag(t *testing.T) {
	d, emit, notes, _ := newDirectory()
	emit.err = errors.New("not connected")
	d.Load("c1")

	assert.False(t, d.Loading())
	require.Len(t, notes.notices, 1)
}

func TestStartNewRequiresReadiness(t *testing.T) {
	d, emit, notes, _ := newDirectory()
	emit.ready = false
	d.StartNew("en")

	assert.Empty(t, emit.events)
	require.Len(t, notes.notices, 1)
	assert.Equal(t, protocol.CodeNotConnected, notes.notices[0].Code)
}

func TestStartNewAdoptsConfirmedConversation(t *testing.T) {
	d, emit, _, tl := newDirectory()
	d.Load("c1")
	d.HandleHistoryLoaded("c1")

	d.StartNew("en")
	assert.Empty(t, d.ActiveID())
	assert.Equal(t, 2, tl.resets)

	ev := emit.events[len(emit.events)-1].(protocol.StartNewConversationEvent)
	require.NotEmpty(t, ev.RequestID)
	assert.Equal(t, "en", ev.Language)

	d.HandleNewStarted(protocol.NewConversationStartedEvent{
		BaseEvent:    protocol.BaseEvent{RequestID: ev.RequestID},
		Conversation: protocol.ConversationMeta{ID: "c-new", Title: "New chat"},
	})

	assert.Equal(t, "c-new", d.ActiveID())
	assert.True(t, d.HistoryLoaded())
	require.Len(t, d.Conversations(), 1)
}

func TestForeignNewConversationDoesNotStealActive(t *testing.T) {
	d, _, _, _ := newDirectory()
	d.Load("c1")
	d.HandleHistoryLoaded("c1")

	d.HandleNewStarted(protocol.NewConversationStartedEvent{
		BaseEvent:    protocol.BaseEvent{RequestID: "someone-else"},
		Conversation: protocol.ConversationMeta{ID: "c-other"},
	})

	assert.Equal(t, "c1", d.ActiveID())
	assert.Len(t, d.Conversations(), 1)
}

func TestListOrderPinnedFirstThenRecent(t *testing.T) {
	d, _, _, _ := newDirectory()
	d.HandleList(protocol.ConversationListEvent{Conversations: []protocol.ConversationMeta{
		{ID: "old", LastActivity: 100},
		{ID: "pinned-old", Pinned: true, LastActivity: 50},
		{ID: "recent", LastActivity: 300},
		{ID: "pinned-recent", Pinned: true, LastActivity: 200},
	}})

	got := d.Conversations()
	require.Len(t, got, 4)
	assert.Equal(t, "pinned-recent", got[0].ID)
	assert.Equal(t, "pinned-old", got[1].ID)
	assert.Equal(t, "recent", got[2].ID)
	assert.Equal(t, "old", got[3].ID)
}

func TestPinChangeResorts(t *testing.T) {
	d, emit, _, _ := newDirectory()
	d.HandleList(protocol.ConversationListEvent{Conversations: []protocol.ConversationMeta{
		{ID: "a", LastActivity: 300},
		{ID: "b", LastActivity: 100},
	}})

	d.Pin("b", true)
	// Optimism does not apply: the order changes only on confirmation.
	assert.Equal(t, "a", d.Conversations()[0].ID)

	d.HandlePinChanged(protocol.ConversationPinChangedEvent{
		BaseEvent: protocol.BaseEvent{ConversationID: "b"},
		Pinned:    true,
	})
	assert.Equal(t, "b", d.Conversations()[0].ID)

	ev := emit.events[len(emit.events)-1].(protocol.PinConversationEvent)
	assert.Equal(t, protocol.TypePinConversation, ev.Type)
	assert.True(t, ev.Pinned)
}

func TestDeleteValidation(t *testing.T) {
	d, emit, _, _ := newDirectory()

	err := d.Delete("")
	assert.ErrorIs(t, err, ErrInvalidID)
	assert.Empty(t, emit.events)

	require.NoError(t, d.Delete("c1"))
	require.Len(t, emit.events, 1)

	emit.err = errors.New("not connected")
	assert.Error(t, d.Delete("c2"))
}

func TestHandleDeletedActiveDeactivates(t *testing.T) {
	d, _, _, tl := newDirectory()
	d.HandleList(protocol.ConversationListEvent{Conversations: []protocol.ConversationMeta{
		{ID: "c1"}, {ID: "c2"},
	}})
	d.Load("c1")
	d.HandleHistoryLoaded("c1")
	resets := tl.resets

	d.HandleDeleted(protocol.BaseEvent{ConversationID: "c1"})

	assert.Empty(t, d.ActiveID())
	assert.False(t, d.HistoryLoaded())
	assert.Equal(t, resets+1, tl.resets)
	require.Len(t, d.Conversations(), 1)
	assert.Equal(t, "c2", d.Conversations()[0].ID)
}

func TestHandleDeletedOtherKeepsActive(t *testing.T) {
	d, _, _, _ := newDirectory()
	d.HandleList(protocol.ConversationListEvent{Conversations: []protocol.ConversationMeta{
		{ID: "c1"}, {ID: "c2"},
	}})
	d.Load("c1")
	d.HandleHistoryLoaded("c1")

	d.HandleDeleted(protocol.BaseEvent{ConversationID: "c2"})

	assert.Equal(t, "c1", d.ActiveID())
	assert.Len(t, d.Conversations(), 1)
}

func TestHandleClearedActiveResetsTimeline(t *testing.T) {
	d, _, _, tl := newDirectory()
	d.HandleList(protocol.ConversationListEvent{Conversations: []protocol.ConversationMeta{{ID: "c1"}}})
	d.Load("c1")
	d.HandleHistoryLoaded("c1")
	resets := tl.resets

	d.HandleCleared(protocol.BaseEvent{ConversationID: "c1", Ts: 12345})

	assert.Equal(t, resets+1, tl.resets)
	assert.Equal(t, "c1", d.ActiveID())
	assert.True(t, d.HistoryLoaded())
}

func TestRenameValidationAndConfirmation(t *testing.T) {
	d, emit, _, _ := newDirectory()
	d.HandleList(protocol.ConversationListEvent{Conversations: []protocol.ConversationMeta{{ID: "c1", Title: "old"}}})

	d.Rename("c1", "   ")
	d.Rename("", "title")
	assert.Empty(t, emit.events)

	d.Rename("c1", "ICML planning")
	require.Len(t, emit.events, 1)

	d.HandleRenamed(protocol.ConversationRenamedEvent{
		BaseEvent: protocol.BaseEvent{ConversationID: "c1"},
		Title:     "ICML planning",
	})
	assert.Equal(t, "ICML planning", d.Conversations()[0].Title)
}

func TestDisconnectClearsInFlightLoad(t *testing.T) {
	d, emit, _, _ := newDirectory()
	d.Load("c1")
	require.True(t, d.Loading())

	d.HandleDisconnected()

	assert.False(t, d.Loading())
	d.Load("c1")
	assert.Len(t, emit.events, 2, "the interrupted load must be retryable after a reconnect")
}

func TestDisconnectDropsStaleCreateRequest(t *testing.T) {
	d, emit, _, _ := newDirectory()
	d.StartNew("en")
	ev := emit.events[len(emit.events)-1].(protocol.StartNewConversationEvent)

	d.HandleDisconnected()
	d.Load("c1")
	d.HandleHistoryLoaded("c1")

	// The pre-disconnect creation confirms late; its correlation id is dead
	// and must not steal the active thread.
	d.HandleNewStarted(protocol.NewConversationStartedEvent{
		BaseEvent:    protocol.BaseEvent{RequestID: ev.RequestID},
		Conversation: protocol.ConversationMeta{ID: "c-stale"},
	})
	assert.Equal(t, "c1", d.ActiveID())
}

func TestHistoryLoadedIgnoresForeignConversation(t *testing.T) {
	d, _, _, _ := newDirectory()
	d.Load("c1")

	d.HandleHistoryLoaded("c-other")

	assert.True(t, d.Loading())
	assert.False(t, d.HistoryLoaded())
	assert.Equal(t, "c1", d.ActiveID())
}

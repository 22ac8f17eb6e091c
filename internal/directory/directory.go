// Package directory maintains the list of known conversation threads and the
// identifier of the currently active one.
package directory

import (
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/confscout/chatsync/internal/notify"
	"github.com/confscout/chatsync/internal/protocol"
)

// ErrInvalidID is returned for operations on an empty conversation id.
var ErrInvalidID = errors.New("directory: invalid conversation id")

// Conversation is the metadata of one thread.
type Conversation struct {
	ID           string
	Title        string
	Pinned       bool
	LastActivity time.Time
}

// Emitter sends outbound events and exposes readiness for fail-fast checks.
type Emitter interface {
	Emit(v any) error
	Ready() bool
}

// Timeline is the slice of the message timeline the directory drives.
type Timeline interface {
	Reset()
}

// Notifier surfaces failures.
type Notifier interface {
	Report(err any, opts notify.Options)
}

// Directory drives conversation list operations. Mutation of the list
// happens only on inbound confirmation events, except for send/start-new
// which are optimistic. Not internally locked; the engine serializes calls.
type Directory struct {
	log      *slog.Logger
	emit     Emitter
	notify   Notifier
	timeline Timeline

	conversations []Conversation
	activeID      string
	historyLoaded bool
	loadingID     string // id with a load request in flight, "" when none
	createReqID   string // correlation id of a pending start-new request

	now   func() time.Time
	newID func() string
}

// New creates a directory wired to its ports.
func New(emit Emitter, n Notifier, tl Timeline, log *slog.Logger) *Directory {
	return &Directory{
		log:      log,
		emit:     emit,
		notify:   n,
		timeline: tl,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// ActiveID returns the active conversation id, or "".
func (d *Directory) ActiveID() string { return d.activeID }

// HistoryLoaded reports whether the active conversation's history arrived.
func (d *Directory) HistoryLoaded() bool { return d.historyLoaded }

// Loading reports whether a load request is in flight.
func (d *Directory) Loading() bool { return d.loadingID != "" }

// Conversations returns a copy of the sorted conversation list.
func (d *Directory) Conversations() []Conversation {
	out := make([]Conversation, len(d.conversations))
	copy(out, d.conversations)
	return out
}

// Deactivate clears the active conversation. The timeline clears its own
// messages; this only drops the lookup key.
func (d *Directory) Deactivate() {
	d.activeID = ""
	d.historyLoaded = false
	d.loadingID = ""
}

// HandleDisconnected clears in-flight request state. The connection dropped,
// so no response for these correlation ids will ever arrive; keeping them
// would suppress the retry after a reconnect.
func (d *Directory) HandleDisconnected() {
	d.loadingID = ""
	d.createReqID = ""
}

// RequestInitialList asks the server for the known conversations.
func (d *Directory) RequestInitialList() {
	ev := protocol.BaseEvent{Type: protocol.TypeGetInitialConversations, Ts: d.now().UnixMilli()}
	if err := d.emit.Emit(ev); err != nil {
		d.notify.Report(err, notify.Options{})
	}
}

// Load activates a conversation and requests its history. Loading an id that
// is already active, fully loaded and not mid-load is a no-op, and duplicate
// concurrent loads for the same id are suppressed.
func (d *Directory) Load(id string) {
	if id == "" {
		d.log.Debug("ignoring load of empty id")
		return
	}
	if id == d.activeID && d.historyLoaded && d.loadingID == "" {
		return
	}
	if id == d.loadingID {
		return
	}

	if id != d.activeID {
		d.timeline.Reset()
	}
	d.activeID = id
	d.historyLoaded = false
	d.loadingID = id

	ev := protocol.BaseEvent{
		Type:           protocol.TypeLoadConversation,
		Ts:             d.now().UnixMilli(),
		ConversationID: id,
	}
	if err := d.emit.Emit(ev); err != nil {
		d.loadingID = ""
		d.notify.Report(err, notify.Options{StopLoading: true})
	}
}

// StartNew optimistically clears the active thread and asks the server to
// create a conversation; the confirmed id replaces the optimistic null state.
func (d *Directory) StartNew(language string) {
	if !d.emit.Ready() {
		d.notify.Report(notify.Notice{
			Message:  "cannot start a conversation: not connected",
			Severity: notify.SeverityError,
			Code:     protocol.CodeNotConnected,
		}, notify.Options{})
		return
	}

	d.activeID = ""
	d.historyLoaded = false
	d.loadingID = ""
	d.timeline.Reset()

	d.createReqID = d.newID()
	ev := protocol.StartNewConversationEvent{
		BaseEvent: protocol.BaseEvent{
			Type:      protocol.TypeStartNewConversation,
			Ts:        d.now().UnixMilli(),
			RequestID: d.createReqID,
		},
		Language: language,
	}
	if err := d.emit.Emit(ev); err != nil {
		d.createReqID = ""
		d.notify.Report(err, notify.Options{})
	}
}

// Delete requests removal of a conversation. The list mutates only on the
// confirmation event. Unlike the other operations it rejects by returning
// the error, matching its promise-returning caller.
func (d *Directory) Delete(id string) error {
	if id == "" {
		return ErrInvalidID
	}
	ev := protocol.BaseEvent{
		Type:           protocol.TypeDeleteConversation,
		Ts:             d.now().UnixMilli(),
		ConversationID: id,
	}
	if err := d.emit.Emit(ev); err != nil {
		d.notify.Report(err, notify.Options{})
		return err
	}
	return nil
}

// Clear requests removal of a conversation's messages.
func (d *Directory) Clear(id string) {
	if id == "" {
		d.log.Debug("ignoring clear of empty id")
		return
	}
	ev := protocol.BaseEvent{
		Type:           protocol.TypeClearConversation,
		Ts:             d.now().UnixMilli(),
		ConversationID: id,
	}
	if err := d.emit.Emit(ev); err != nil {
		d.notify.Report(err, notify.Options{})
	}
}

// Rename requests a title change.
func (d *Directory) Rename(id, title string) {
	title = strings.TrimSpace(title)
	if id == "" || title == "" {
		d.log.Debug("ignoring rename with empty id or title")
		return
	}
	ev := protocol.RenameConversationEvent{
		BaseEvent: protocol.BaseEvent{
			Type:           protocol.TypeRenameConversation,
			Ts:             d.now().UnixMilli(),
			ConversationID: id,
		},
		Title: title,
	}
	if err := d.emit.Emit(ev); err != nil {
		d.notify.Report(err, notify.Options{})
	}
}

// Pin requests a pin toggle.
func (d *Directory) Pin(id string, pinned bool) {
	if id == "" {
		d.log.Debug("ignoring pin of empty id")
		return
	}
	ev := protocol.PinConversationEvent{
		BaseEvent: protocol.BaseEvent{
			Type:           protocol.TypePinConversation,
			Ts:             d.now().UnixMilli(),
			ConversationID: id,
		},
		Pinned: pinned,
	}
	if err := d.emit.Emit(ev); err != nil {
		d.notify.Report(err, notify.Options{})
	}
}

// HandleList replaces the conversation list.
func (d *Directory) HandleList(ev protocol.ConversationListEvent) {
	d.conversations = d.conversations[:0]
	for _, meta := range ev.Conversations {
		d.conversations = append(d.conversations, fromMeta(meta))
	}
	d.resort()
}

// HandleHistoryLoaded marks the active conversation's history as present.
func (d *Directory) HandleHistoryLoaded(conversationID string) {
	if conversationID != "" && conversationID != d.activeID && conversationID != d.loadingID {
		return
	}
	if conversationID != "" {
		d.activeID = conversationID
	}
	d.historyLoaded = true
	d.loadingID = ""
}

// HandleNewStarted adopts the server-confirmed conversation. The new thread
// becomes active when it confirms our own pending creation request or when
// nothing else is active.
func (d *Directory) HandleNewStarted(ev protocol.NewConversationStartedEvent) {
	conv := fromMeta(ev.Conversation)
	d.upsert(conv)

	ours := d.createReqID != "" && ev.RequestID == d.createReqID
	if ours || d.activeID == "" {
		d.activeID = conv.ID
		d.historyLoaded = true // a new conversation has no history to fetch
		d.loadingID = ""
	}
	if ours {
		d.createReqID = ""
	}
	d.resort()
}

// HandleDeleted removes the conversation; if it was active the thread is
// deactivated and the timeline cleared.
func (d *Directory) HandleDeleted(ev protocol.BaseEvent) {
	for i, c := range d.conversations {
		if c.ID == ev.ConversationID {
			d.conversations = append(d.conversations[:i], d.conversations[i+1:]...)
			break
		}
	}
	if d.activeID == ev.ConversationID {
		d.Deactivate()
		d.timeline.Reset()
	}
	d.resort()
}

// HandleCleared empties the active timeline when its conversation was
// cleared; the thread itself stays.
func (d *Directory) HandleCleared(ev protocol.BaseEvent) {
	if d.activeID == ev.ConversationID {
		d.timeline.Reset()
		d.historyLoaded = true
	}
	if i := d.index(ev.ConversationID); i >= 0 {
		d.conversations[i].LastActivity = time.UnixMilli(ev.Ts)
	}
	d.resort()
}

// HandleRenamed applies a confirmed title change.
func (d *Directory) HandleRenamed(ev protocol.ConversationRenamedEvent) {
	if i := d.index(ev.ConversationID); i >= 0 {
		d.conversations[i].Title = ev.Title
	}
	d.resort()
}

// HandlePinChanged applies a confirmed pin toggle.
func (d *Directory) HandlePinChanged(ev protocol.ConversationPinChangedEvent) {
	if i := d.index(ev.ConversationID); i >= 0 {
		d.conversations[i].Pinned = ev.Pinned
	}
	d.resort()
}

// Touch bumps a conversation's last activity, used when a turn completes.
func (d *Directory) Touch(id string) {
	if i := d.index(id); i >= 0 {
		d.conversations[i].LastActivity = d.now()
		d.resort()
	}
}

func (d *Directory) upsert(conv Conversation) {
	if i := d.index(conv.ID); i >= 0 {
		d.conversations[i] = conv
		return
	}
	d.conversations = append(d.conversations, conv)
}

func (d *Directory) index(id string) int {
	for i, c := range d.conversations {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// resort applies the display order: pinned first, then most recent activity.
// Recomputed after every list-affecting event, not just on initial load.
func (d *Directory) resort() {
	sort.SliceStable(d.conversations, func(i, j int) bool {
		a, b := d.conversations[i], d.conversations[j]
		if a.Pinned != b.Pinned {
			return a.Pinned
		}
		return a.LastActivity.After(b.LastActivity)
	})
}

func fromMeta(m protocol.ConversationMeta) Conversation {
	return Conversation{
		ID:           m.ID,
		Title:        m.Title,
		Pinned:       m.Pinned,
		LastActivity: time.UnixMilli(m.LastActivity),
	}
}

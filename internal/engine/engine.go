// Package engine is the composition root of the sync engine: it constructs
// the state containers, wires their ports, and serializes every command and
// inbound event so handlers mutate state one at a time, in delivery order.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/confscout/chatsync/internal/action"
	"github.com/confscout/chatsync/internal/config"
	"github.com/confscout/chatsync/internal/connection"
	"github.com/confscout/chatsync/internal/directory"
	"github.com/confscout/chatsync/internal/hydrate"
	"github.com/confscout/chatsync/internal/notify"
	"github.com/confscout/chatsync/internal/protocol"
	"github.com/confscout/chatsync/internal/timeline"
	"github.com/confscout/chatsync/internal/transport"
)

// Collaborators are the presentation-side ports fulfilled outside the core.
// Nil fields fall back to no-ops. Callbacks may be invoked while the engine
// lock is held, so they must not call back into the engine synchronously.
type Collaborators struct {
	Prompt    action.ConfirmPrompt
	Navigator action.Navigator
}

// Engine owns the single logical event loop. All state containers are
// mutated only under its mutex; the transport read pump is the only event
// producer, so handlers observe events in wire order.
type Engine struct {
	mu  sync.Mutex
	log *slog.Logger
	cfg *config.Config

	conn   *connection.Manager
	center *notify.Center
	dir    *directory.Directory
	tl     *timeline.Timeline

	prompt action.ConfirmPrompt
	nav    action.Navigator

	state  hydrate.State
	timers map[string]*time.Timer

	onUpdate func()
}

// New wires the engine from a hydrated snapshot. The snapshot may be nil.
func New(cfg *config.Config, ch transport.Channel, snap *hydrate.Snapshot, collab Collaborators, log *slog.Logger) *Engine {
	e := &Engine{
		log:    log,
		cfg:    cfg,
		prompt: collab.Prompt,
		nav:    collab.Navigator,
		timers: make(map[string]*time.Timer),
	}
	if e.prompt == nil {
		e.prompt = action.NopPrompt{}
	}
	if e.nav == nil {
		e.nav = action.NopNavigator{}
	}

	e.state = hydrate.Hydrate(snap, hydrate.Defaults{
		Language:  cfg.DefaultLanguage,
		Languages: cfg.SupportedLanguages,
	})

	e.conn = connection.NewManager(ch, log)
	e.center = notify.NewCenter(log)
	e.tl = timeline.New(e.conn, e.center, dirPort{e}, e.nav, promptShim{e}, log)
	e.dir = directory.New(e.conn, e.center, tlPort{e}, log)
	e.center.Bind(e.tl, e.conn)
	e.tl.SetLanguage(e.state.Language)

	return e
}

// dirPort exposes the directory slice the timeline reads.
type dirPort struct{ e *Engine }

func (p dirPort) ActiveID() string { return p.e.dir.ActiveID() }
func (p dirPort) Deactivate()      { p.e.dir.Deactivate() }

// tlPort exposes the timeline slice the directory drives.
type tlPort struct{ e *Engine }

func (p tlPort) Reset() { p.e.tl.Reset() }

// SetOnUpdate registers a callback fired after each handled command or
// event, outside the engine lock. Set it before Connect.
func (e *Engine) SetOnUpdate(fn func()) { e.onUpdate = fn }

func (e *Engine) fireUpdate() {
	if e.onUpdate != nil {
		e.onUpdate()
	}
}

// Connect dials the channel and starts the handshake.
func (e *Engine) Connect(ctx context.Context) error {
	e.mu.Lock()
	err := e.conn.Connect(ctx, e.cfg.Token, e)
	e.mu.Unlock()
	return err
}

// Reconnect re-dials with the stored credential. Blocked in the fatal state.
func (e *Engine) Reconnect(ctx context.Context) error {
	e.mu.Lock()
	err := e.conn.Reconnect(ctx, e)
	e.mu.Unlock()
	return err
}

// Disconnect tears down the channel.
func (e *Engine) Disconnect() {
	e.mu.Lock()
	e.conn.Disconnect()
	e.tl.HandleDisconnected()
	e.dir.HandleDisconnected()
	e.stopAllTimers()
	e.mu.Unlock()
	e.fireUpdate()
}

// HandleEvent implements transport.Sink.
func (e *Engine) HandleEvent(eventType string, data json.RawMessage) {
	e.mu.Lock()
	e.dispatch(eventType, data)
	e.mu.Unlock()
	e.fireUpdate()
}

// HandleDisconnected implements transport.Sink. Disconnection is a hard
// cancellation of every open turn.
func (e *Engine) HandleDisconnected(reason string) {
	e.mu.Lock()
	e.conn.HandleDisconnected(reason)
	e.tl.HandleDisconnected()
	e.dir.HandleDisconnected()
	e.stopAllTimers()
	e.mu.Unlock()
	e.fireUpdate()
}

// dispatch decodes and routes one inbound event. It must never let a panic
// escape: partial turn state is cleaned up and the failure reported instead.
func (e *Engine) dispatch(eventType string, data json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			e.tl.HandleChatError(protocol.ChatErrorEvent{
				Code:    protocol.CodeInternalError,
				Message: fmt.Sprintf("internal error handling %s: %v", eventType, r),
			})
		}
	}()

	switch eventType {
	case protocol.TypeHelloAck:
		var ev protocol.HelloAckEvent
		if !e.decode(data, &ev, eventType) {
			return
		}
		e.conn.HandleHelloAck(ev)
		e.center.ClearFatal()
		e.dir.RequestInitialList()
		if e.state.ActiveConversationID != "" {
			e.dir.Load(e.state.ActiveConversationID)
		}

	case protocol.TypeAuthError:
		var ev protocol.ChatErrorEvent
		if !e.decode(data, &ev, eventType) {
			return
		}
		if ev.Code == "" {
			ev.Code = protocol.CodeAuthRequired
		}
		e.conn.HandleAuthError(ev.Code, ev.Message)
		e.center.Report(ev, notify.Options{StopLoading: true, Fatal: true})

	case protocol.TypeConversationList:
		var ev protocol.ConversationListEvent
		if !e.decode(data, &ev, eventType) {
			return
		}
		e.dir.HandleList(ev)

	case protocol.TypeInitialHistory:
		var ev protocol.InitialHistoryEvent
		if !e.decode(data, &ev, eventType) {
			return
		}
		e.tl.SetHistory(ev.Messages)
		e.dir.HandleHistoryLoaded(ev.ConversationID)

	case protocol.TypeNewConversationStarted:
		var ev protocol.NewConversationStartedEvent
		if !e.decode(data, &ev, eventType) {
			return
		}
		e.dir.HandleNewStarted(ev)

	case protocol.TypeConversationDeleted:
		var ev protocol.BaseEvent
		if !e.decode(data, &ev, eventType) {
			return
		}
		e.dir.HandleDeleted(ev)

	case protocol.TypeConversationCleared:
		var ev protocol.BaseEvent
		if !e.decode(data, &ev, eventType) {
			return
		}
		e.dir.HandleCleared(ev)

	case protocol.TypeConversationRenamed:
		var ev protocol.ConversationRenamedEvent
		if !e.decode(data, &ev, eventType) {
			return
		}
		e.dir.HandleRenamed(ev)

	case protocol.TypeConversationPinChanged:
		var ev protocol.ConversationPinChangedEvent
		if !e.decode(data, &ev, eventType) {
			return
		}
		e.dir.HandlePinChanged(ev)

	case protocol.TypeStatusUpdate:
		var ev protocol.StatusUpdateEvent
		if !e.decode(data, &ev, eventType) {
			return
		}
		e.tl.HandleStatusUpdate(ev)

	case protocol.TypeChatUpdate:
		var ev protocol.ChatUpdateEvent
		if !e.decodeTurn(data, &ev, eventType) {
			return
		}
		e.tl.HandleChunk(ev)

	case protocol.TypeChatResult:
		var ev protocol.ChatResultEvent
		if !e.decodeTurn(data, &ev, eventType) {
			return
		}
		e.tl.HandleResult(ev)
		e.dir.Touch(ev.ConversationID)

	case protocol.TypeChatError:
		var ev protocol.ChatErrorEvent
		if !e.decode(data, &ev, eventType) {
			return
		}
		e.tl.HandleChatError(ev)

	case protocol.TypeEmailConfirmationResult:
		var ev protocol.EmailConfirmationResultEvent
		if !e.decode(data, &ev, eventType) {
			return
		}
		e.stopTimer(ev.ConfirmationID)
		e.tl.HandleEmailConfirmation(ev)

	case protocol.TypeConversationUpdatedAfterEdit:
		var ev protocol.ConversationUpdatedAfterEditEvent
		if !e.decodeTurn(data, &ev, eventType) {
			return
		}
		e.tl.HandleEditResult(ev)
		e.dir.Touch(ev.ConversationID)

	default:
		e.log.Debug("ignoring unknown event", "type", eventType)
	}
}

// decode reports a malformed payload without touching turn state.
func (e *Engine) decode(data json.RawMessage, v any, eventType string) bool {
	if err := json.Unmarshal(data, v); err != nil {
		e.center.Report(fmt.Errorf("malformed %s event: %w", eventType, err), notify.Options{})
		return false
	}
	return true
}

// decodeTurn is decode for turn-carrying events: a malformed payload must
// still clean up the open session and pending marker.
func (e *Engine) decodeTurn(data json.RawMessage, v any, eventType string) bool {
	if err := json.Unmarshal(data, v); err != nil {
		e.tl.HandleChatError(protocol.ChatErrorEvent{
			Code:    protocol.CodeInvalidMessage,
			Message: fmt.Sprintf("malformed %s event", eventType),
		})
		return false
	}
	return true
}

// Send starts a new user turn.
func (e *Engine) Send(text string) {
	e.SendWithAttachments(text, nil)
}

// SendWithAttachments starts a new user turn with attachment parts.
func (e *Engine) SendWithAttachments(text string, attachments []protocol.Part) {
	e.mu.Lock()
	e.tl.Send(text, attachments)
	e.mu.Unlock()
	e.fireUpdate()
}

// SubmitEditedMessage rewrites a user message and regenerates the reply.
func (e *Engine) SubmitEditedMessage(messageID, newText string) {
	e.mu.Lock()
	e.tl.SubmitEdit(messageID, newText)
	e.mu.Unlock()
	e.fireUpdate()
}

// LoadConversation activates a thread and requests its history.
func (e *Engine) LoadConversation(id string) {
	e.mu.Lock()
	e.dir.Load(id)
	e.mu.Unlock()
	e.fireUpdate()
}

// StartNewConversation asks the server for a fresh thread.
func (e *Engine) StartNewConversation() {
	e.mu.Lock()
	e.dir.StartNew(e.state.Language)
	e.mu.Unlock()
	e.fireUpdate()
}

// DeleteConversation requests removal of a thread.
func (e *Engine) DeleteConversation(id string) error {
	e.mu.Lock()
	err := e.dir.Delete(id)
	e.mu.Unlock()
	e.fireUpdate()
	return err
}

// ClearConversation requests removal of a thread's messages.
func (e *Engine) ClearConversation(id string) {
	e.mu.Lock()
	e.dir.Clear(id)
	e.mu.Unlock()
	e.fireUpdate()
}

// RenameConversation requests a title change.
func (e *Engine) RenameConversation(id, title string) {
	e.mu.Lock()
	e.dir.Rename(id, title)
	e.mu.Unlock()
	e.fireUpdate()
}

// PinConversation requests a pin toggle.
func (e *Engine) PinConversation(id string, pinned bool) {
	e.mu.Lock()
	e.dir.Pin(id, pinned)
	e.mu.Unlock()
	e.fireUpdate()
}

// ConfirmPendingAction approves a pending confirmation dialog.
func (e *Engine) ConfirmPendingAction(confirmationID string) {
	e.mu.Lock()
	e.stopTimer(confirmationID)
	e.tl.ConfirmAction(confirmationID)
	e.mu.Unlock()
	e.fireUpdate()
}

// CancelPendingAction declines a pending confirmation dialog.
func (e *Engine) CancelPendingAction(confirmationID string) {
	e.mu.Lock()
	e.stopTimer(confirmationID)
	e.tl.CancelAction(confirmationID)
	e.mu.Unlock()
	e.fireUpdate()
}

// SetLanguage switches the conversation language. Unknown codes are ignored.
func (e *Engine) SetLanguage(lang string) {
	e.mu.Lock()
	st := hydrate.Hydrate(&hydrate.Snapshot{Language: lang}, hydrate.Defaults{
		Language:  e.state.Language,
		Languages: e.cfg.SupportedLanguages,
	})
	e.state.Language = st.Language
	e.tl.SetLanguage(st.Language)
	e.mu.Unlock()
}

// Snapshot returns the state slice worth persisting between sessions.
func (e *Engine) Snapshot() hydrate.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return hydrate.Snapshot{
		Language:             e.state.Language,
		ActiveConversationID: e.dir.ActiveID(),
	}
}

// Messages returns the current message list.
func (e *Engine) Messages() []*timeline.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tl.Messages()
}

// Conversations returns the sorted conversation list.
func (e *Engine) Conversations() []directory.Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dir.Conversations()
}

// LoadingState returns the timeline's loading descriptor.
func (e *Engine) LoadingState() timeline.Loading {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tl.Loading()
}

// ConnectionState returns the channel lifecycle state.
func (e *Engine) ConnectionState() connection.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn.State()
}

// Identity returns the handshake identity.
func (e *Engine) Identity() connection.Identity {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn.Identity()
}

// Fatal reports whether the global fatal flag is raised.
func (e *Engine) Fatal() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.center.Fatal()
}

// Language returns the current conversation language.
func (e *Engine) Language() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Language
}

// promptShim wraps the external confirm prompt with the auto-expiry
// countdown. Expiry cancels the action as if the user had declined.
type promptShim struct{ e *Engine }

func (s promptShim) ShowConfirmation(req action.ConfirmRequest) {
	e := s.e
	d := time.Until(req.ExpiresAt)
	if d <= 0 {
		d = e.cfg.ConfirmExpiry
	}
	id := req.ConfirmationID
	e.stopTimer(id)
	e.timers[id] = time.AfterFunc(d, func() { e.expireConfirmation(id) })
	e.prompt.ShowConfirmation(req)
}

func (s promptShim) ResolveConfirmation(confirmationID, status, message string) {
	s.e.stopTimer(confirmationID)
	s.e.prompt.ResolveConfirmation(confirmationID, status, message)
}

func (e *Engine) expireConfirmation(confirmationID string) {
	e.mu.Lock()
	delete(e.timers, confirmationID)
	e.tl.CancelAction(confirmationID)
	e.prompt.ResolveConfirmation(confirmationID, action.StatusExpired, "")
	e.mu.Unlock()
	e.fireUpdate()
}

func (e *Engine) stopTimer(confirmationID string) {
	if timer, ok := e.timers[confirmationID]; ok {
		timer.Stop()
		delete(e.timers, confirmationID)
	}
}

func (e *Engine) stopAllTimers() {
	for id, timer := range e.timers {
		timer.Stop()
		delete(e.timers, id)
	}
}

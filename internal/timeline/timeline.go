// Package timeline owns the ordered message list of the active conversation
// and the state machine of one conversation turn: idle, sending, streaming,
// awaiting result, back to idle.
package timeline

import (
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/confscout/chatsync/internal/action"
	"github.com/confscout/chatsync/internal/notify"
	"github.com/confscout/chatsync/internal/protocol"
)

// LoadingPhase is the tri-state turn progress descriptor.
type LoadingPhase string

const (
	LoadingIdle   LoadingPhase = "idle"
	LoadingBusy   LoadingPhase = "busy"
	LoadingFailed LoadingPhase = "failed"
)

// Loading gates input and shows progress in the UI.
type Loading struct {
	Phase   LoadingPhase
	Step    string
	Message string
	Agent   string
}

// Emitter sends outbound events. Satisfied by the connection manager.
type Emitter interface {
	Emit(v any) error
}

// Conversations is the slice of the directory the timeline reads: the active
// thread id is a lookup key only, never an ownership relation.
type Conversations interface {
	ActiveID() string
	Deactivate()
}

// Notifier surfaces failures and carries the global fatal flag.
type Notifier interface {
	Report(err any, opts notify.Options)
	Fatal() bool
}

// marker records that a response is expected for the active turn. It is the
// only association between the optimistic placeholder and its eventual
// server confirmation.
type marker struct {
	messageID string
	requestID string
	edit      bool
	editedID  string
}

// Timeline is the core state container. Not internally locked; the engine
// serializes all calls.
type Timeline struct {
	log     *slog.Logger
	emit    Emitter
	notify  Notifier
	convs   Conversations
	nav     action.Navigator
	confirm action.ConfirmPrompt

	language string
	messages []*Message
	loading  Loading
	pending  *marker
	rec      Reconciler

	now   func() time.Time
	newID func() string
}

// New creates a timeline wired to its ports.
func New(emit Emitter, n Notifier, convs Conversations, nav action.Navigator, confirm action.ConfirmPrompt, log *slog.Logger) *Timeline {
	return &Timeline{
		log:     log,
		emit:    emit,
		notify:  n,
		convs:   convs,
		nav:     nav,
		confirm: confirm,
		loading: Loading{Phase: LoadingIdle},
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
	}
}

// SetLanguage sets the language carried on outbound turns.
func (t *Timeline) SetLanguage(lang string) { t.language = lang }

// Messages returns a copy of the current message list.
func (t *Timeline) Messages() []*Message {
	out := make([]*Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Loading returns the current loading state.
func (t *Timeline) Loading() Loading { return t.loading }

// PendingRequestID returns the correlation id of the active turn, or "".
func (t *Timeline) PendingRequestID() string {
	if t.pending == nil {
		return ""
	}
	return t.pending.requestID
}

// Send starts a new turn: appends the optimistic user message and a pending
// placeholder, then emits the request. Empty content and a raised fatal flag
// degrade to silent no-ops.
func (t *Timeline) Send(text string, attachments []protocol.Part) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" && len(attachments) == 0 {
		t.log.Debug("ignoring empty send")
		return
	}
	if t.notify.Fatal() {
		t.log.Warn("send blocked by fatal flag")
		return
	}

	t.cancelInFlight()

	parts := make([]protocol.Part, 0, len(attachments)+1)
	if trimmed != "" {
		parts = append(parts, protocol.Part{Type: protocol.PartText, Text: trimmed})
	}
	parts = append(parts, attachments...)

	now := t.now()
	userMsg := &Message{ID: t.newID(), Role: RoleUser, Parts: parts, Text: trimmed, CreatedAt: now}
	placeholder := &Message{ID: t.newID(), Role: RoleAssistant, Pending: true, CreatedAt: now}
	t.messages = append(t.messages, userMsg, placeholder)

	reqID := t.newID()
	t.pending = &marker{messageID: placeholder.ID, requestID: reqID}
	t.loading = Loading{Phase: LoadingBusy, Step: "sending"}

	ev := protocol.SendMessageEvent{
		BaseEvent: protocol.BaseEvent{
			Type:           protocol.TypeSendMessage,
			Ts:             now.UnixMilli(),
			RequestID:      reqID,
			ConversationID: t.convs.ActiveID(),
		},
		Parts:    parts,
		Language: t.language,
	}
	if err := t.emit.Emit(ev); err != nil {
		t.messages = t.messages[:len(t.messages)-2]
		t.pending = nil
		t.notify.Report(err, notify.Options{StopLoading: true})
	}
}

// SubmitEdit rewrites history from the edited message on: everything after
// it is truncated, the message is re-inserted with the new content, and a
// fresh placeholder awaits the regenerated reply.
func (t *Timeline) SubmitEdit(messageID, newText string) {
	trimmed := strings.TrimSpace(newText)
	if trimmed == "" {
		t.log.Debug("ignoring empty edit")
		return
	}
	if t.convs.ActiveID() == "" {
		t.log.Warn("edit without an active conversation")
		return
	}
	if t.notify.Fatal() {
		t.log.Warn("edit blocked by fatal flag")
		return
	}

	t.cancelInFlight()

	idx := t.indexByID(messageID)
	if idx < 0 || t.messages[idx].Role != RoleUser {
		t.log.Warn("edit target not found", "message_id", messageID)
		return
	}

	removed := make([]*Message, len(t.messages)-idx)
	copy(removed, t.messages[idx:])

	now := t.now()
	edited := &Message{
		ID:        messageID,
		Role:      RoleUser,
		Parts:     []protocol.Part{{Type: protocol.PartText, Text: trimmed}},
		Text:      trimmed,
		CreatedAt: t.messages[idx].CreatedAt,
	}
	placeholder := &Message{ID: t.newID(), Role: RoleAssistant, Pending: true, CreatedAt: now}
	t.messages = append(t.messages[:idx], edited, placeholder)

	reqID := t.newID()
	t.pending = &marker{messageID: placeholder.ID, requestID: reqID, edit: true, editedID: messageID}
	t.loading = Loading{Phase: LoadingBusy, Step: "editing"}

	ev := protocol.EditUserMessageEvent{
		BaseEvent: protocol.BaseEvent{
			Type:           protocol.TypeEditUserMessage,
			Ts:             now.UnixMilli(),
			RequestID:      reqID,
			ConversationID: t.convs.ActiveID(),
		},
		MessageID: messageID,
		Text:      trimmed,
	}
	if err := t.emit.Emit(ev); err != nil {
		t.messages = append(t.messages[:idx], removed...)
		t.pending = nil
		t.notify.Report(err, notify.Options{StopLoading: true})
	}
}

// HandleChunk merges one incremental update into the pending message. A
// chunk with no prior placeholder (reconnection race) lazily constructs one.
func (t *Timeline) HandleChunk(ev protocol.ChatUpdateEvent) {
	if t.pending != nil && ev.RequestID != "" && ev.RequestID != t.pending.requestID {
		t.log.Debug("dropping chunk for superseded turn", "request_id", ev.RequestID)
		return
	}
	if t.pending == nil {
		t.pending = &marker{messageID: t.newID(), requestID: ev.RequestID}
	}

	msg := t.byID(t.pending.messageID)
	if msg == nil {
		msg = &Message{ID: t.pending.messageID, Role: RoleAssistant, Pending: true, CreatedAt: t.now()}
		t.messages = append(t.messages, msg)
	}

	if !t.rec.Open() {
		t.rec.Start(t.pending.messageID)
	}
	if ev.Text != "" {
		t.rec.Append(ev.Text)
		msg.Text = t.rec.Buffer()
	}
	if ev.Part != nil {
		msg.Parts = append(msg.Parts, *ev.Part)
	}
	if t.loading.Phase != LoadingBusy {
		t.loading = Loading{Phase: LoadingBusy, Step: "streaming"}
	}
}

// HandleStatusUpdate reflects turn progress reported by the assistant.
func (t *Timeline) HandleStatusUpdate(ev protocol.StatusUpdateEvent) {
	t.loading = Loading{Phase: LoadingBusy, Step: ev.Step, Message: ev.Message, Agent: ev.Agent}
}

// HandleResult terminates the turn: the streamed buffer is flushed into the
// target message, authoritative server fields override it, and the pending
// marker is cleared. A result with no prior chunk is tolerated.
func (t *Timeline) HandleResult(ev protocol.ChatResultEvent) {
	if t.pending != nil && ev.RequestID != "" && ev.RequestID != t.pending.requestID {
		t.log.Debug("dropping result for superseded turn", "request_id", ev.RequestID)
		return
	}

	final := t.rec.Complete()
	t.loading = Loading{Phase: LoadingIdle}

	if t.pending == nil {
		// Result arriving with no local turn state, e.g. after a
		// reconnect mid-turn.
		if ev.Message != nil {
			if msg, ok := fromChatMessage(*ev.Message, t.now()); ok {
				t.messages = append(t.messages, msg)
				t.dispatchAction(msg)
			}
		}
		return
	}

	msg := t.byID(t.pending.messageID)
	if msg == nil {
		msg = &Message{ID: t.pending.messageID, Role: RoleAssistant, CreatedAt: t.now()}
		t.messages = append(t.messages, msg)
	}
	msg.Pending = false

	if final != "" {
		msg.Text = final
	}
	if ev.Message != nil {
		if ev.Message.ID != "" {
			msg.ID = ev.Message.ID
		}
		if strings.TrimSpace(ev.Message.Text) != "" {
			msg.Text = ev.Message.Text
		}
		if len(ev.Message.Parts) > 0 {
			msg.Parts = ev.Message.Parts
		}
		if len(ev.Message.Thoughts) > 0 {
			msg.Thoughts = ev.Message.Thoughts
		}
		if ev.Message.Action != nil {
			msg.Action = ev.Message.Action
		}
		if len(ev.Message.Sources) > 0 {
			msg.Sources = ev.Message.Sources
		}
	}
	t.pending = nil

	view := protocol.ChatMessage{Text: msg.Text, Parts: msg.Parts, Action: msg.Action}
	if !Displayable(view) {
		t.removeByID(msg.ID)
	}
	t.dispatchAction(msg)
}

// HandleEditResult reconciles an optimistic edit with the server
// confirmation. Association is by correlation id only; an unresolvable
// confirmation is flagged, not silently recovered. Re-delivery of the same
// payload is a no-op.
func (t *Timeline) HandleEditResult(ev protocol.ConversationUpdatedAfterEditEvent) {
	matched := t.pending != nil && t.pending.edit &&
		(ev.RequestID == "" || ev.RequestID == t.pending.requestID)
	if !matched {
		if ev.NewBotMessage != nil && t.byID(ev.NewBotMessage.ID) != nil {
			t.log.Debug("duplicate edit confirmation", "request_id", ev.RequestID)
			return
		}
		t.notify.Report(notify.Warning{Text: "edit confirmation did not match a pending edit"}, notify.Options{})
		return
	}

	t.rec.Abort()

	if ev.EditedUserMessage != nil {
		if i := t.indexByID(t.pending.editedID); i >= 0 {
			if mapped, ok := fromChatMessage(*ev.EditedUserMessage, t.now()); ok {
				mapped.Role = RoleUser
				mapped.CreatedAt = t.messages[i].CreatedAt
				t.messages[i] = mapped
			} else {
				t.messages = append(t.messages[:i], t.messages[i+1:]...)
			}
		}
	}

	j := t.indexByID(t.pending.messageID)
	if ev.NewBotMessage != nil {
		if mapped, ok := fromChatMessage(*ev.NewBotMessage, t.now()); ok {
			if j >= 0 {
				t.messages[j] = mapped
			} else {
				t.messages = append(t.messages, mapped)
			}
			t.dispatchAction(mapped)
		} else if j >= 0 {
			t.messages = append(t.messages[:j], t.messages[j+1:]...)
		}
	} else if j >= 0 {
		// No follow-up reply: the placeholder is orphaned, drop it.
		t.messages = append(t.messages[:j], t.messages[j+1:]...)
	}

	t.pending = nil
	t.loading = Loading{Phase: LoadingIdle}
}

// HandleChatError clears turn state and, when the error concerns the active
// conversation, deactivates it so the UI falls back to a neutral state
// instead of a broken thread.
func (t *Timeline) HandleChatError(ev protocol.ChatErrorEvent) {
	t.rec.Abort()
	if t.pending != nil {
		t.removeByID(t.pending.messageID)
		t.pending = nil
	}

	deactivate := protocol.HistoryLoadSteps[ev.Step]
	if ev.Details != nil && ev.Details.ConversationID != "" && ev.Details.ConversationID == t.convs.ActiveID() {
		deactivate = true
	}
	if deactivate {
		t.convs.Deactivate()
		t.messages = nil
	}

	t.notify.Report(ev, notify.Options{StopLoading: true})
}

// HandleEmailConfirmation resolves a pending confirmation dialog and leaves
// a visible trace of the outcome in the timeline.
func (t *Timeline) HandleEmailConfirmation(ev protocol.EmailConfirmationResultEvent) {
	t.confirm.ResolveConfirmation(ev.ConfirmationID, ev.Status, ev.Message)
	if ev.Message != "" {
		severity := ""
		if ev.Status != action.StatusSent {
			severity = string(notify.SeverityWarning)
		}
		t.messages = append(t.messages, &Message{
			ID:        t.newID(),
			Role:      RoleAssistant,
			Text:      ev.Message,
			Severity:  severity,
			CreatedAt: t.now(),
		})
	}
	t.loading = Loading{Phase: LoadingIdle}
}

// HandleDisconnected is the hard cancellation of every open turn.
func (t *Timeline) HandleDisconnected() {
	t.rec.Abort()
	if t.pending != nil {
		t.removeByID(t.pending.messageID)
		t.pending = nil
	}
	t.loading = Loading{Phase: LoadingIdle}
}

// SetHistory replaces the message list with the displayable items of a
// loaded conversation history.
func (t *Timeline) SetHistory(items []protocol.ChatMessage) {
	t.rec.Abort()
	t.pending = nil
	t.messages = nil
	now := t.now()
	for _, item := range items {
		if msg, ok := fromChatMessage(item, now); ok {
			t.messages = append(t.messages, msg)
		}
	}
	t.loading = Loading{Phase: LoadingIdle}
}

// Reset clears all timeline state, including any open turn.
func (t *Timeline) Reset() {
	t.rec.Abort()
	t.pending = nil
	t.messages = nil
	t.loading = Loading{Phase: LoadingIdle}
}

// ConfirmAction approves a pending structured action.
func (t *Timeline) ConfirmAction(confirmationID string) {
	t.emitConfirmation(protocol.TypeConfirmPendingAction, confirmationID)
}

// CancelAction declines a pending structured action.
func (t *Timeline) CancelAction(confirmationID string) {
	t.emitConfirmation(protocol.TypeCancelPendingAction, confirmationID)
}

func (t *Timeline) emitConfirmation(eventType, confirmationID string) {
	if confirmationID == "" {
		t.log.Debug("ignoring confirmation without id")
		return
	}
	ev := protocol.ConfirmActionEvent{
		BaseEvent:      protocol.BaseEvent{Type: eventType, Ts: t.now().UnixMilli(), ConversationID: t.convs.ActiveID()},
		ConfirmationID: confirmationID,
	}
	if err := t.emit.Emit(ev); err != nil {
		t.notify.Report(err, notify.Options{})
	}
}

// AppendNotice adds a synthetic assistant-authored notice so failures are
// visible in-context. Part of the notify.TimelineSink port.
func (t *Timeline) AppendNotice(severity, message string) {
	t.messages = append(t.messages, &Message{
		ID:        t.newID(),
		Role:      RoleAssistant,
		Text:      message,
		Severity:  severity,
		CreatedAt: t.now(),
	})
}

// StopLoading halts the loading state. Part of the notify.TimelineSink port.
func (t *Timeline) StopLoading() {
	t.loading = Loading{Phase: LoadingFailed}
}

// cancelInFlight supersedes the previous turn: the client stops listening
// for its identity and drops its placeholder. No cancel message is sent.
func (t *Timeline) cancelInFlight() {
	t.rec.Abort()
	if t.pending != nil {
		t.removeByID(t.pending.messageID)
		t.pending = nil
	}
}

// dispatchAction hands navigate and confirm-email actions to the external
// collaborators. The timeline never renders them.
func (t *Timeline) dispatchAction(msg *Message) {
	if msg.Action == nil {
		return
	}
	switch msg.Action.Type {
	case protocol.ActionNavigate:
		t.nav.Navigate(msg.Action.URL)
	case protocol.ActionConfirmEmail:
		expires := t.now().Add(time.Duration(msg.Action.ExpiresInSec) * time.Second)
		t.confirm.ShowConfirmation(action.ConfirmRequest{
			ConfirmationID: msg.Action.ConfirmationID,
			Subject:        msg.Action.Subject,
			Body:           msg.Action.Body,
			ExpiresAt:      expires,
		})
	}
}

func (t *Timeline) byID(id string) *Message {
	if i := t.indexByID(id); i >= 0 {
		return t.messages[i]
	}
	return nil
}

func (t *Timeline) indexByID(id string) int {
	for i, m := range t.messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func (t *Timeline) removeByID(id string) {
	if i := t.indexByID(id); i >= 0 {
		t.messages = append(t.messages[:i], t.messages[i+1:]...)
	}
}

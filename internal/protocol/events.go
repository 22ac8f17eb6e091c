// Package protocol defines the JSON event protocol between the chat client
// and the assistant service.
package protocol

import "encoding/json"

// Event types from client to server.
const (
	TypeHello                   = "hello"
	TypeGetInitialConversations = "get_initial_conversations"
	TypeLoadConversation        = "load_conversation"
	TypeStartNewConversation    = "start_new_conversation"
	TypeDeleteConversation      = "delete_conversation"
	TypeClearConversation       = "clear_conversation"
	TypeRenameConversation      = "rename_conversation"
	TypePinConversation         = "pin_conversation"
	TypeSendMessage             = "send_message"
	TypeEditUserMessage         = "edit_user_message"
	TypeConfirmPendingAction    = "confirm_pending_action"
	TypeCancelPendingAction     = "cancel_pending_action"
)

// Event types from server to client.
const (
	TypeHelloAck                     = "hello_ack"
	TypeAuthError                    = "auth_error"
	TypeConversationList             = "conversation_list"
	TypeInitialHistory               = "initial_history"
	TypeNewConversationStarted       = "new_conversation_started"
	TypeConversationDeleted          = "conversation_deleted"
	TypeConversationCleared          = "conversation_cleared"
	TypeConversationRenamed          = "conversation_renamed"
	TypeConversationPinChanged       = "conversation_pin_changed"
	TypeStatusUpdate                 = "status_update"
	TypeChatUpdate                   = "chat_update"
	TypeChatResult                   = "chat_result"
	TypeChatError                    = "chat_error"
	TypeEmailConfirmationResult      = "email_confirmation_result"
	TypeConversationUpdatedAfterEdit = "conversation_updated_after_edit"
)

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	Type           string `json:"type"`
	Ts             int64  `json:"ts"`
	RequestID      string `json:"request_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// Part is one content segment of a message: text or an attachment reference.
type Part struct {
	Type     string `json:"type"` // "text" or "file"
	Text     string `json:"text,omitempty"`
	FileID   string `json:"file_id,omitempty"`
	FileName string `json:"file_name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// Part types.
const (
	PartText = "text"
	PartFile = "file"
)

// Thought is one step of an assistant reasoning trace.
type Thought struct {
	Step   string `json:"step"`
	Detail string `json:"detail,omitempty"`
	Agent  string `json:"agent,omitempty"`
	Ts     int64  `json:"ts,omitempty"`
}

// Source is a citation attached to an assistant message.
type Source struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Action types carried on assistant messages.
const (
	ActionNavigate     = "navigate"
	ActionConfirmEmail = "confirm_email"
	ActionMap          = "map"
	ActionFollowUpdate = "follow_update"
	ActionSources      = "sources"
)

// Action is a structured action payload attached to an assistant message.
type Action struct {
	Type           string   `json:"type"`
	URL            string   `json:"url,omitempty"`
	Location       string   `json:"location,omitempty"`
	Subject        string   `json:"subject,omitempty"`
	Body           string   `json:"body,omitempty"`
	ConfirmationID string   `json:"confirmation_id,omitempty"`
	ExpiresInSec   int      `json:"expires_in_sec,omitempty"`
	Status         string   `json:"status,omitempty"`
	Sources        []Source `json:"sources,omitempty"`
}

// ChatMessage is the server-side representation of a message, used in
// history payloads, chat results and edit confirmations.
type ChatMessage struct {
	ID       string    `json:"id"`
	Role     string    `json:"role"`
	Parts    []Part    `json:"parts,omitempty"`
	Text     string    `json:"text,omitempty"`
	Thoughts []Thought `json:"thoughts,omitempty"`
	Action   *Action   `json:"action,omitempty"`
	Sources  []Source  `json:"sources,omitempty"`
	Ts       int64     `json:"ts,omitempty"`
}

// ConversationMeta describes one conversation thread.
type ConversationMeta struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Pinned       bool   `json:"pinned"`
	LastActivity int64  `json:"last_activity"`
}

// HelloEvent is sent by the client to authenticate the connection.
type HelloEvent struct {
	BaseEvent
	Token      string            `json:"token,omitempty"`
	ClientMeta map[string]string `json:"client_meta,omitempty"`
}

// HelloAckEvent acknowledges the handshake and carries the caller identity.
// Readiness is reached only when this event arrives, not on raw connect.
type HelloAckEvent struct {
	BaseEvent
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`
	Email     string `json:"email,omitempty"`
}

// StartNewConversationEvent requests creation of a conversation.
type StartNewConversationEvent struct {
	BaseEvent
	Language string `json:"language,omitempty"`
}

// RenameConversationEvent requests a title change.
type RenameConversationEvent struct {
	BaseEvent
	Title string `json:"title"`
}

// PinConversationEvent requests a pin toggle.
type PinConversationEvent struct {
	BaseEvent
	Pinned bool `json:"pinned"`
}

// SendMessageEvent carries one user turn. ConversationID may be empty, in
// which case the server creates a conversation for it.
type SendMessageEvent struct {
	BaseEvent
	Parts    []Part `json:"parts"`
	Language string `json:"language,omitempty"`
}

// EditUserMessageEvent requests a retroactive edit of a user message.
type EditUserMessageEvent struct {
	BaseEvent
	MessageID string `json:"message_id"`
	Text      string `json:"text"`
}

// ConfirmActionEvent confirms or cancels a pending structured action.
type ConfirmActionEvent struct {
	BaseEvent
	ConfirmationID string `json:"confirmation_id"`
}

// ConversationListEvent delivers the known conversation threads.
type ConversationListEvent struct {
	BaseEvent
	Conversations []ConversationMeta `json:"conversations"`
}

// InitialHistoryEvent delivers the stored messages of one conversation.
type InitialHistoryEvent struct {
	BaseEvent
	Messages []ChatMessage `json:"messages"`
}

// NewConversationStartedEvent confirms conversation creation.
type NewConversationStartedEvent struct {
	BaseEvent
	Conversation ConversationMeta `json:"conversation"`
}

// ConversationRenamedEvent confirms a rename.
type ConversationRenamedEvent struct {
	BaseEvent
	Title string `json:"title"`
}

// ConversationPinChangedEvent confirms a pin toggle.
type ConversationPinChangedEvent struct {
	BaseEvent
	Pinned bool `json:"pinned"`
}

// StatusUpdateEvent reports turn progress while the assistant works.
type StatusUpdateEvent struct {
	BaseEvent
	Step    string `json:"step"`
	Message string `json:"message,omitempty"`
	Agent   string `json:"agent,omitempty"`
}

// ChatUpdateEvent is one incremental chunk of a streamed assistant reply.
// Text carries a delta of the reply body; Part carries non-text fragments
// (for example a file reference) arriving mid-stream.
type ChatUpdateEvent struct {
	BaseEvent
	Text string `json:"text,omitempty"`
	Part *Part  `json:"part,omitempty"`
}

// ChatResultEvent terminates a turn with the authoritative message. The
// embedded message's text may be empty when the streamed chunks are already
// the full body.
type ChatResultEvent struct {
	BaseEvent
	Message *ChatMessage `json:"message"`
}

// ErrorDetails carries structured context for a chat error.
type ErrorDetails struct {
	ConversationID string `json:"conversation_id,omitempty"`
}

// ChatErrorEvent reports a turn or load failure.
type ChatErrorEvent struct {
	BaseEvent
	Code    string        `json:"code"`
	Step    string        `json:"step,omitempty"`
	Message string        `json:"message"`
	Details *ErrorDetails `json:"details,omitempty"`
}

// EmailConfirmationResultEvent reports the outcome of a confirmed or
// cancelled email action.
type EmailConfirmationResultEvent struct {
	BaseEvent
	ConfirmationID string `json:"confirmation_id"`
	Status         string `json:"status"` // "sent", "cancelled" or "expired"
	Message        string `json:"message,omitempty"`
}

// ConversationUpdatedAfterEditEvent confirms an edit, carrying the rewritten
// user message and the regenerated assistant reply.
type ConversationUpdatedAfterEditEvent struct {
	BaseEvent
	EditedUserMessage *ChatMessage `json:"edited_user_message,omitempty"`
	NewBotMessage     *ChatMessage `json:"new_bot_message,omitempty"`
}

// Error codes.
const (
	CodeInvalidMessage    = "invalid_message"
	CodeNotConnected      = "not_connected"
	CodeConversationGone  = "conversation_not_found"
	CodeHistoryLoadFailed = "history_load_failed"
	CodeInternalError     = "internal_error"
	CodeFatalServer       = "fatal_server"
	CodeAuthRequired      = "auth_required"
	CodeAccessDenied      = "access_denied"
)

// IsFatalCode reports whether a server error code must raise the global
// fatal flag and block further interaction.
func IsFatalCode(code string) bool {
	switch code {
	case CodeFatalServer, CodeAuthRequired, CodeAccessDenied:
		return true
	}
	return false
}

// IsAuthCode reports whether a code means the server rejected the session
// itself, requiring re-authentication before any further command.
func IsAuthCode(code string) bool {
	return code == CodeAuthRequired || code == CodeAccessDenied
}

// HistoryLoadSteps are the status steps whose failure deactivates the active
// conversation in addition to being reported.
var HistoryLoadSteps = map[string]bool{
	"load_history":      true,
	"load_conversation": true,
}

// Envelope is used to peek at the type of an incoming frame before
// dispatching to the typed decoder.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"-"`
}

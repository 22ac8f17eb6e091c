// Package devserver is a local assistant service speaking the chatsync
// protocol, used to exercise the client end to end during development.
package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/confscout/chatsync/internal/protocol"
)

// Config tunes the dev server.
type Config struct {
	Token      string        // expected handshake credential; "" accepts all
	ChunkDelay time.Duration // pause between streamed chunks
	ConfirmTTL time.Duration // how long email confirmations stay valid
}

func (c Config) withDefaults() Config {
	if c.ChunkDelay <= 0 {
		c.ChunkDelay = 25 * time.Millisecond
	}
	if c.ConfirmTTL <= 0 {
		c.ConfirmTTL = time.Minute
	}
	return c
}

// pendingEmail is an email action awaiting user confirmation.
type pendingEmail struct {
	userID    string
	convID    string
	recipient string
	expires   time.Time
}

// Server handles WebSocket connections for the dev assistant.
type Server struct {
	cfg      Config
	log      *slog.Logger
	echo     *echo.Echo
	upgrader websocket.Upgrader
	store    *Store
	policy   *Policy

	mu      sync.Mutex
	pending map[string]pendingEmail
}

// NewServer creates the dev server with the default email policy.
func NewServer(ctx context.Context, cfg Config, logger *slog.Logger) (*Server, error) {
	policy, err := NewPolicy(ctx, DefaultPolicy)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:    cfg.withDefaults(),
		log:    logger,
		store:  NewStore(),
		policy: policy,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		pending: make(map[string]pendingEmail),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.GET("/ws", s.handleWebSocket)
	e.GET("/health", s.handleHealth)
	s.echo = e
	return s, nil
}

// Start begins serving on the given address.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"status": "healthy"})
}

// client is one WebSocket connection.
type client struct {
	conn   *websocket.Conn
	send   chan []byte
	userID string
	authed bool
}

func (s *Server) handleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		return err
	}

	cl := &client{conn: ws, send: make(chan []byte, 256)}
	go s.writePump(cl)
	go s.readPump(cl)
	return nil
}

func (s *Server) readPump(cl *client) {
	defer func() {
		close(cl.send)
		cl.conn.Close()
	}()

	for {
		_, data, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}
		s.handleMessage(cl, data)
	}
}

func (s *Server) writePump(cl *client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()

	for {
		select {
		case data, ok := <-cl.send:
			cl.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) push(cl *client, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error("marshal outbound event", "err", err)
		return
	}
	select {
	case cl.send <- data:
	default:
		s.log.Warn("client send buffer full, dropping event")
	}
}

func base(eventType string) protocol.BaseEvent {
	return protocol.BaseEvent{Type: eventType, Ts: time.Now().UnixMilli()}
}

func (s *Server) pushError(cl *client, code, step, message, convID, reqID string) {
	ev := protocol.ChatErrorEvent{BaseEvent: base(protocol.TypeChatError), Code: code, Step: step, Message: message}
	ev.RequestID = reqID
	if convID != "" {
		ev.Details = &protocol.ErrorDetails{ConversationID: convID}
	}
	s.push(cl, ev)
}

func (s *Server) handleMessage(cl *client, data []byte) {
	var env protocol.BaseEvent
	if err := json.Unmarshal(data, &env); err != nil {
		s.pushError(cl, protocol.CodeInvalidMessage, "", "invalid JSON message", "", "")
		return
	}

	if env.Type == protocol.TypeHello {
		s.handleHello(cl, data)
		return
	}
	if !cl.authed {
		ev := protocol.ChatErrorEvent{BaseEvent: base(protocol.TypeAuthError), Code: protocol.CodeAuthRequired, Message: "must authenticate first"}
		s.push(cl, ev)
		return
	}

	switch env.Type {
	case protocol.TypeGetInitialConversations:
		s.push(cl, protocol.ConversationListEvent{
			BaseEvent:     base(protocol.TypeConversationList),
			Conversations: s.store.List(cl.userID),
		})

	case protocol.TypeLoadConversation:
		messages, ok := s.store.Messages(cl.userID, env.ConversationID)
		if !ok {
			s.pushError(cl, protocol.CodeHistoryLoadFailed, "load_conversation", "conversation not found", env.ConversationID, env.RequestID)
			return
		}
		ev := protocol.InitialHistoryEvent{BaseEvent: base(protocol.TypeInitialHistory), Messages: messages}
		ev.ConversationID = env.ConversationID
		s.push(cl, ev)

	case protocol.TypeStartNewConversation:
		var msg protocol.StartNewConversationEvent
		if err := json.Unmarshal(data, &msg); err != nil {
			s.pushError(cl, protocol.CodeInvalidMessage, "", "invalid start_new_conversation event", "", env.RequestID)
			return
		}
		meta := s.store.Create(cl.userID, "")
		ev := protocol.NewConversationStartedEvent{BaseEvent: base(protocol.TypeNewConversationStarted), Conversation: meta}
		ev.RequestID = msg.RequestID
		ev.ConversationID = meta.ID
		s.push(cl, ev)

	case protocol.TypeDeleteConversation:
		if !s.store.Delete(cl.userID, env.ConversationID) {
			s.pushError(cl, protocol.CodeConversationGone, "", "conversation not found", "", env.RequestID)
			return
		}
		ev := base(protocol.TypeConversationDeleted)
		ev.ConversationID = env.ConversationID
		s.push(cl, ev)

	case protocol.TypeClearConversation:
		if !s.store.Clear(cl.userID, env.ConversationID) {
			s.pushError(cl, protocol.CodeConversationGone, "", "conversation not found", "", env.RequestID)
			return
		}
		ev := base(protocol.TypeConversationCleared)
		ev.ConversationID = env.ConversationID
		s.push(cl, ev)

	case protocol.TypeRenameConversation:
		var msg protocol.RenameConversationEvent
		if err := json.Unmarshal(data, &msg); err != nil {
			s.pushError(cl, protocol.CodeInvalidMessage, "", "invalid rename_conversation event", "", env.RequestID)
			return
		}
		if !s.store.Rename(cl.userID, msg.ConversationID, msg.Title) {
			s.pushError(cl, protocol.CodeConversationGone, "", "conversation not found", "", msg.RequestID)
			return
		}
		ev := protocol.ConversationRenamedEvent{BaseEvent: base(protocol.TypeConversationRenamed), Title: msg.Title}
		ev.ConversationID = msg.ConversationID
		s.push(cl, ev)

	case protocol.TypePinConversation:
		var msg protocol.PinConversationEvent
		if err := json.Unmarshal(data, &msg); err != nil {
			s.pushError(cl, protocol.CodeInvalidMessage, "", "invalid pin_conversation event", "", env.RequestID)
			return
		}
		if !s.store.Pin(cl.userID, msg.ConversationID, msg.Pinned) {
			s.pushError(cl, protocol.CodeConversationGone, "", "conversation not found", "", msg.RequestID)
			return
		}
		ev := protocol.ConversationPinChangedEvent{BaseEvent: base(protocol.TypeConversationPinChanged), Pinned: msg.Pinned}
		ev.ConversationID = msg.ConversationID
		s.push(cl, ev)

	case protocol.TypeSendMessage:
		s.handleSend(cl, data)

	case protocol.TypeEditUserMessage:
		s.handleEdit(cl, data)

	case protocol.TypeConfirmPendingAction:
		s.handleConfirmation(cl, data, true)

	case protocol.TypeCancelPendingAction:
		s.handleConfirmation(cl, data, false)

	default:
		s.pushError(cl, protocol.CodeInvalidMessage, "", "unknown event type: "+env.Type, "", env.RequestID)
	}
}

func (s *Server) handleHello(cl *client, data []byte) {
	var msg protocol.HelloEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		s.pushError(cl, protocol.CodeInvalidMessage, "", "invalid hello event", "", "")
		return
	}
	if s.cfg.Token != "" && msg.Token != s.cfg.Token {
		ev := protocol.ChatErrorEvent{BaseEvent: base(protocol.TypeAuthError), Code: protocol.CodeAuthRequired, Message: "invalid token"}
		s.push(cl, ev)
		return
	}

	cl.authed = true
	cl.userID = "dev_user"
	if msg.Token != "" {
		cl.userID = "user_" + msg.Token
	}

	ack := protocol.HelloAckEvent{
		BaseEvent: base(protocol.TypeHelloAck),
		SessionID: "sess_" + uuid.New().String()[:8],
		UserID:    cl.userID,
		Email:     cl.userID + "@confscout.dev",
	}
	s.push(cl, ack)
}

func (s *Server) handleSend(cl *client, data []byte) {
	var msg protocol.SendMessageEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		s.pushError(cl, protocol.CodeInvalidMessage, "", "invalid send_message event", "", "")
		return
	}

	convID := msg.ConversationID
	if convID == "" {
		meta := s.store.Create(cl.userID, "")
		convID = meta.ID
		ev := protocol.NewConversationStartedEvent{BaseEvent: base(protocol.TypeNewConversationStarted), Conversation: meta}
		ev.ConversationID = convID
		s.push(cl, ev)
	}

	var text strings.Builder
	for _, p := range msg.Parts {
		if p.Type == protocol.PartText {
			text.WriteString(p.Text)
		}
	}
	userMsg := protocol.ChatMessage{
		ID:    "msg_" + uuid.New().String()[:8],
		Role:  "user",
		Parts: msg.Parts,
		Text:  text.String(),
		Ts:    time.Now().UnixMilli(),
	}
	if !s.store.Append(cl.userID, convID, userMsg) {
		s.pushError(cl, protocol.CodeConversationGone, "", "conversation not found", "", msg.RequestID)
		return
	}

	go s.respond(cl, convID, msg.RequestID, text.String())
}

// respond streams a composed reply: a status update, chunked deltas, then
// the authoritative result.
func (s *Server) respond(cl *client, convID, reqID, text string) {
	status := protocol.StatusUpdateEvent{BaseEvent: base(protocol.TypeStatusUpdate), Step: "thinking", Message: "Looking that up", Agent: "scout"}
	status.RequestID = reqID
	status.ConversationID = convID
	s.push(cl, status)

	r := composeReply(text)
	s.applyEmailPolicy(cl, convID, &r, text)

	for _, chunk := range chunks(r.Text) {
		ev := protocol.ChatUpdateEvent{BaseEvent: base(protocol.TypeChatUpdate), Text: chunk}
		ev.RequestID = reqID
		ev.ConversationID = convID
		s.push(cl, ev)
		time.Sleep(s.cfg.ChunkDelay)
	}

	final := protocol.ChatMessage{
		ID:       "msg_" + uuid.New().String()[:8],
		Role:     "assistant",
		Text:     r.Text,
		Thoughts: r.Thoughts,
		Action:   r.Action,
		Sources:  r.Sources,
		Ts:       time.Now().UnixMilli(),
	}
	s.store.Append(cl.userID, convID, final)

	result := protocol.ChatResultEvent{BaseEvent: base(protocol.TypeChatResult), Message: &final}
	result.RequestID = reqID
	result.ConversationID = convID
	s.push(cl, result)
}

// applyEmailPolicy runs the rego decision over a composed email action and
// rewrites the reply accordingly.
func (s *Server) applyEmailPolicy(cl *client, convID string, r *reply, text string) {
	if r.Action == nil || r.Action.Type != protocol.ActionConfirmEmail {
		return
	}

	recipient := parseRecipient(text)
	decision, err := s.policy.Evaluate(context.Background(), map[string]any{
		"recipient": recipient,
		"subject":   r.Action.Subject,
		"user_id":   cl.userID,
	})
	if err != nil {
		s.log.Error("policy evaluation failed", "err", err)
		decision = DecisionConfirm
	}

	switch decision {
	case DecisionAllow:
		r.Text = fmt.Sprintf("Email sent to %s.", displayRecipient(recipient))
		r.Action = nil
	case DecisionDeny:
		r.Text = "I cannot send that email: no valid recipient."
		r.Action = nil
	default:
		confirmationID := "cfm_" + uuid.New().String()[:8]
		expires := time.Now().Add(s.cfg.ConfirmTTL)
		r.Action.ConfirmationID = confirmationID
		r.Action.ExpiresInSec = int(s.cfg.ConfirmTTL / time.Second)
		s.mu.Lock()
		s.pending[confirmationID] = pendingEmail{userID: cl.userID, convID: convID, recipient: recipient, expires: expires}
		s.mu.Unlock()
	}
}

func (s *Server) handleEdit(cl *client, data []byte) {
	var msg protocol.EditUserMessageEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		s.pushError(cl, protocol.CodeInvalidMessage, "", "invalid edit_user_message event", "", "")
		return
	}

	edited := protocol.ChatMessage{
		ID:    msg.MessageID,
		Role:  "user",
		Parts: []protocol.Part{{Type: protocol.PartText, Text: msg.Text}},
		Text:  msg.Text,
		Ts:    time.Now().UnixMilli(),
	}
	if !s.store.ReplaceFrom(cl.userID, msg.ConversationID, msg.MessageID, edited) {
		s.pushError(cl, protocol.CodeInvalidMessage, "", "message not found", msg.ConversationID, msg.RequestID)
		return
	}

	r := composeReply(msg.Text)
	bot := protocol.ChatMessage{
		ID:       "msg_" + uuid.New().String()[:8],
		Role:     "assistant",
		Text:     r.Text,
		Thoughts: r.Thoughts,
		Sources:  r.Sources,
		Ts:       time.Now().UnixMilli(),
	}
	s.store.Append(cl.userID, msg.ConversationID, bot)

	ev := protocol.ConversationUpdatedAfterEditEvent{
		BaseEvent:         base(protocol.TypeConversationUpdatedAfterEdit),
		EditedUserMessage: &edited,
		NewBotMessage:     &bot,
	}
	ev.RequestID = msg.RequestID
	ev.ConversationID = msg.ConversationID
	s.push(cl, ev)
}

func (s *Server) handleConfirmation(cl *client, data []byte, confirm bool) {
	var msg protocol.ConfirmActionEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		s.pushError(cl, protocol.CodeInvalidMessage, "", "invalid confirmation event", "", "")
		return
	}

	s.mu.Lock()
	p, ok := s.pending[msg.ConfirmationID]
	delete(s.pending, msg.ConfirmationID)
	s.mu.Unlock()

	result := protocol.EmailConfirmationResultEvent{
		BaseEvent:      base(protocol.TypeEmailConfirmationResult),
		ConfirmationID: msg.ConfirmationID,
	}
	switch {
	case !ok || time.Now().After(p.expires):
		result.Status = "expired"
		result.Message = "The email confirmation expired."
	case confirm:
		result.Status = "sent"
		result.Message = fmt.Sprintf("Email sent to %s.", displayRecipient(p.recipient))
	default:
		result.Status = "cancelled"
		result.Message = "Email cancelled."
	}
	if ok {
		result.ConversationID = p.convID
	}
	s.push(cl, result)
}

package timeline

import (
	"strings"
	"time"

	"github.com/confscout/chatsync/internal/action"
	"github.com/confscout/chatsync/internal/protocol"
)

// Role of a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is the display model of one conversation entry. Owned exclusively
// by the Timeline of the active conversation.
type Message struct {
	ID        string
	Role      Role
	Parts     []protocol.Part
	Text      string // denormalized plain-text projection
	Thoughts  []protocol.Thought
	Action    *protocol.Action
	Sources   []protocol.Source
	CreatedAt time.Time
	Severity  string // "", "error" or "warning"
	Pending   bool
}

// Displayable reports whether a server message carries user-visible content.
// Items carrying only internal control signals (pure tool call-and-response
// residue) are filtered out. This is the one rule shared by history load,
// result merge and edit reconciliation.
func Displayable(m protocol.ChatMessage) bool {
	if strings.TrimSpace(m.Text) != "" {
		return true
	}
	for _, p := range m.Parts {
		switch p.Type {
		case protocol.PartText:
			if strings.TrimSpace(p.Text) != "" {
				return true
			}
		case protocol.PartFile:
			if p.FileID != "" || p.FileName != "" {
				return true
			}
		}
	}
	if m.Action != nil && action.SelfRendering(m.Action.Type) {
		return true
	}
	return false
}

// fromChatMessage maps a server message to the display model. ok is false
// when the item is not displayable.
func fromChatMessage(m protocol.ChatMessage, now time.Time) (*Message, bool) {
	if !Displayable(m) {
		return nil, false
	}

	role := RoleAssistant
	if m.Role == string(RoleUser) {
		role = RoleUser
	}

	created := now
	if m.Ts > 0 {
		created = time.UnixMilli(m.Ts)
	}

	text := m.Text
	if text == "" {
		text = joinTextParts(m.Parts)
	}

	return &Message{
		ID:        m.ID,
		Role:      role,
		Parts:     m.Parts,
		Text:      text,
		Thoughts:  m.Thoughts,
		Action:    m.Action,
		Sources:   m.Sources,
		CreatedAt: created,
	}, true
}

func joinTextParts(parts []protocol.Part) string {
	var b strings.Builder
	for _, p := range parts {
		if p.Type == protocol.PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

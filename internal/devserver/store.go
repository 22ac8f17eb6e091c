package devserver

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/confscout/chatsync/internal/protocol"
)

// conversationState is one stored thread with its messages.
type conversationState struct {
	Meta     protocol.ConversationMeta
	Messages []protocol.ChatMessage
}

// Store keeps per-user conversation state in memory. The dev server is not a
// durability layer; real deployments are server-authoritative elsewhere.
type Store struct {
	mu     sync.Mutex
	byUser map[string][]*conversationState
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{byUser: make(map[string][]*conversationState)}
}

// List returns the metadata of all conversations of a user.
func (s *Store) List(userID string) []protocol.ConversationMeta {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []protocol.ConversationMeta
	for _, c := range s.byUser[userID] {
		out = append(out, c.Meta)
	}
	return out
}

// Create adds a conversation and returns its metadata.
func (s *Store) Create(userID, title string) protocol.ConversationMeta {
	s.mu.Lock()
	defer s.mu.Unlock()
	if title == "" {
		title = "New conversation"
	}
	conv := &conversationState{Meta: protocol.ConversationMeta{
		ID:           "conv_" + uuid.New().String()[:8],
		Title:        title,
		LastActivity: time.Now().UnixMilli(),
	}}
	s.byUser[userID] = append(s.byUser[userID], conv)
	return conv.Meta
}

// Messages returns a copy of a conversation's messages and whether it exists.
func (s *Store) Messages(userID, convID string) ([]protocol.ChatMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.find(userID, convID)
	if c == nil {
		return nil, false
	}
	out := make([]protocol.ChatMessage, len(c.Messages))
	copy(out, c.Messages)
	return out, true
}

// Append stores a message and bumps last activity.
func (s *Store) Append(userID, convID string, msg protocol.ChatMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.find(userID, convID)
	if c == nil {
		return false
	}
	c.Messages = append(c.Messages, msg)
	c.Meta.LastActivity = time.Now().UnixMilli()
	return true
}

// ReplaceFrom rewrites a message in place and truncates everything after it.
// Returns false when the message is unknown.
func (s *Store) ReplaceFrom(userID, convID, messageID string, replacement protocol.ChatMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.find(userID, convID)
	if c == nil {
		return false
	}
	for i, m := range c.Messages {
		if m.ID == messageID {
			c.Messages = append(c.Messages[:i], replacement)
			c.Meta.LastActivity = time.Now().UnixMilli()
			return true
		}
	}
	return false
}

// Delete removes a conversation.
func (s *Store) Delete(userID, convID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	convs := s.byUser[userID]
	for i, c := range convs {
		if c.Meta.ID == convID {
			s.byUser[userID] = append(convs[:i], convs[i+1:]...)
			return true
		}
	}
	return false
}

// Clear drops a conversation's messages, keeping the thread.
func (s *Store) Clear(userID, convID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.find(userID, convID)
	if c == nil {
		return false
	}
	c.Messages = nil
	c.Meta.LastActivity = time.Now().UnixMilli()
	return true
}

// Rename sets a conversation title.
func (s *Store) Rename(userID, convID, title string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.find(userID, convID)
	if c == nil {
		return false
	}
	c.Meta.Title = title
	return true
}

// Pin sets the pinned flag.
func (s *Store) Pin(userID, convID string, pinned bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.find(userID, convID)
	if c == nil {
		return false
	}
	c.Meta.Pinned = pinned
	return true
}

func (s *Store) find(userID, convID string) *conversationState {
	for _, c := range s.byUser[userID] {
		if c.Meta.ID == convID {
			return c
		}
	}
	return nil
}

// Package action defines the outward collaborator ports for structured
// assistant actions. The engine decides when to invoke them; how they look is
// a presentation concern fulfilled elsewhere.
package action

import (
	"time"

	"github.com/confscout/chatsync/internal/protocol"
)

// Confirmation outcome statuses.
const (
	StatusSent      = "sent"
	StatusCancelled = "cancelled"
	StatusExpired   = "expired"
)

// ConfirmRequest asks the user to approve an outgoing email before the
// assistant sends it. The dialog auto-expires at ExpiresAt.
type ConfirmRequest struct {
	ConfirmationID string
	Subject        string
	Body           string
	ExpiresAt      time.Time
}

// ConfirmPrompt shows and resolves confirmation dialogs.
type ConfirmPrompt interface {
	ShowConfirmation(req ConfirmRequest)
	ResolveConfirmation(confirmationID, status, message string)
}

// Navigator opens a URL on behalf of a navigate action.
type Navigator interface {
	Navigate(url string)
}

// Renderer displays self-rendering actions (map, follow-status change,
// source list) attached to timeline messages.
type Renderer interface {
	RenderAction(messageID string, a protocol.Action)
}

// SelfRendering reports whether an action type renders inside the timeline.
// Navigate and confirm-email actions are handed to collaborators instead.
func SelfRendering(actionType string) bool {
	switch actionType {
	case protocol.ActionMap, protocol.ActionFollowUpdate, protocol.ActionSources:
		return true
	}
	return false
}

// NopPrompt and NopNavigator satisfy the ports when no UI is attached.
type NopPrompt struct{}

func (NopPrompt) ShowConfirmation(ConfirmRequest)            {}
func (NopPrompt) ResolveConfirmation(string, string, string) {}

type NopNavigator struct{}

func (NopNavigator) Navigate(string) {}

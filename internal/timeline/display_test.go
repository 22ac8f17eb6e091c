package timeline

import (
	"testing"
	"time"

	"github.com/confscout/chatsync/internal/protocol"
)

func TestDisplayable(t *testing.T) {
	tests := []struct {
		name string
		msg  protocol.ChatMessage
		want bool
	}{
		{"plain text", protocol.ChatMessage{Text: "hello"}, true},
		{"whitespace only", protocol.ChatMessage{Text: "  \n "}, false},
		{"empty", protocol.ChatMessage{}, false},
		{"text part", protocol.ChatMessage{Parts: []protocol.Part{{Type: protocol.PartText, Text: "hi"}}}, true},
		{"empty text part", protocol.ChatMessage{Parts: []protocol.Part{{Type: protocol.PartText, Text: " "}}}, false},
		{"file part", protocol.ChatMessage{Parts: []protocol.Part{{Type: protocol.PartFile, FileID: "f1"}}}, true},
		{"map action", protocol.ChatMessage{Action: &protocol.Action{Type: protocol.ActionMap, Location: "Rio"}}, true},
		{"follow action", protocol.ChatMessage{Action: &protocol.Action{Type: protocol.ActionFollowUpdate}}, true},
		{"sources action", protocol.ChatMessage{Action: &protocol.Action{Type: protocol.ActionSources}}, true},
		{"navigate only", protocol.ChatMessage{Action: &protocol.Action{Type: protocol.ActionNavigate, URL: "https://x"}}, false},
		{"confirm email only", protocol.ChatMessage{Action: &protocol.Action{Type: protocol.ActionConfirmEmail}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Displayable(tt.msg); got != tt.want {
				t.Fatalf("Displayable(%+v) = %v, want %v", tt.msg, got, tt.want)
			}
		})
	}
}

func TestFromChatMessageJoinsTextParts(t *testing.T) {
	msg := protocol.ChatMessage{
		ID:   "m1",
		Role: "assistant",
		Parts: []protocol.Part{
			{Type: protocol.PartText, Text: "part one"},
			{Type: protocol.PartFile, FileID: "f1"},
			{Type: protocol.PartText, Text: " part two"},
		},
	}
	mapped, ok := fromChatMessage(msg, time.Now())
	if !ok {
		t.Fatal("expected message to be displayable")
	}
	if mapped.Text != "part one part two" {
		t.Fatalf("unexpected text projection: %q", mapped.Text)
	}
	if mapped.Role != RoleAssistant {
		t.Fatalf("unexpected role: %q", mapped.Role)
	}
}

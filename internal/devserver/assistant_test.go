package devserver

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confscout/chatsync/internal/protocol"
)

func TestComposeReplyEmailCarriesConfirmAction(t *testing.T) {
	r := composeReply("please email chair@icse.org about deadlines")
	require.NotNil(t, r.Action)
	assert.Equal(t, protocol.ActionConfirmEmail, r.Action.Type)
	assert.Contains(t, r.Text, "chair@icse.org")
}

func TestComposeReplyVenueQuestionCarriesMapAction(t *testing.T) {
	r := composeReply("where is ICSE held?")
	require.NotNil(t, r.Action)
	assert.Equal(t, protocol.ActionMap, r.Action.Type)
}

func TestComposeReplySearchCarriesSources(t *testing.T) {
	r := composeReply("find me a software engineering conference")
	assert.Nil(t, r.Action)
	assert.NotEmpty(t, r.Sources)
	assert.NotEmpty(t, r.Thoughts)
}

func TestComposeReplyFallback(t *testing.T) {
	r := composeReply("hello")
	assert.Nil(t, r.Action)
	assert.NotEmpty(t, r.Text)
}

func TestParseRecipient(t *testing.T) {
	assert.Equal(t, "a@b.org", parseRecipient("email a@b.org, please"))
	assert.Equal(t, "", parseRecipient("no address here"))
}

func TestChunksRoundTrip(t *testing.T) {
	text := "I found two venues matching your interests: ICSE 2026 and JSS."
	parts := chunks(text)
	require.NotEmpty(t, parts)
	assert.Equal(t, text, strings.Join(parts, ""))
}

func TestStoreEditTruncatesTail(t *testing.T) {
	s := NewStore()
	meta := s.Create("u1", "")
	s.Append("u1", meta.ID, protocol.ChatMessage{ID: "m1", Role: "user", Text: "A"})
	s.Append("u1", meta.ID, protocol.ChatMessage{ID: "m2", Role: "assistant", Text: "reply to A"})

	ok := s.ReplaceFrom("u1", meta.ID, "m1", protocol.ChatMessage{ID: "m1", Role: "user", Text: "B"})
	require.True(t, ok)

	msgs, found := s.Messages("u1", meta.ID)
	require.True(t, found)
	require.Len(t, msgs, 1)
	assert.Equal(t, "B", msgs[0].Text)

	assert.False(t, s.ReplaceFrom("u1", meta.ID, "missing", protocol.ChatMessage{}))
}

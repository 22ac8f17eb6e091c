package devserver

import (
	"fmt"
	"strings"
	"time"

	"github.com/confscout/chatsync/internal/protocol"
)

// reply is a composed assistant response before delivery.
type reply struct {
	Text     string
	Thoughts []protocol.Thought
	Action   *protocol.Action
	Sources  []protocol.Source
}

// composeReply produces a canned conference-discovery response keyed off the
// user's text. Good enough to exercise every client code path.
func composeReply(text string) reply {
	lower := strings.ToLower(text)
	now := time.Now().UnixMilli()
	thought := func(step, detail string) protocol.Thought {
		return protocol.Thought{Step: step, Detail: detail, Agent: "scout", Ts: now}
	}

	switch {
	case strings.Contains(lower, "email"):
		recipient := parseRecipient(text)
		return reply{
			Text: fmt.Sprintf("I prepared an email about the upcoming submission deadlines for %s.", displayRecipient(recipient)),
			Thoughts: []protocol.Thought{
				thought("draft_email", "composed deadline summary"),
			},
			Action: &protocol.Action{
				Type:    protocol.ActionConfirmEmail,
				Subject: "Upcoming submission deadlines",
				Body:    "Here are the conference deadlines you asked about.",
			},
		}

	case strings.Contains(lower, "where") || strings.Contains(lower, "map"):
		return reply{
			Text: "ICSE 2026 takes place at the Rio de Janeiro convention center.",
			Thoughts: []protocol.Thought{
				thought("lookup_venue", "resolved venue coordinates"),
			},
			Action: &protocol.Action{Type: protocol.ActionMap, Location: "Rio de Janeiro, Brazil"},
		}

	case strings.Contains(lower, "follow"):
		return reply{
			Text:   "Done, you are now following this conference.",
			Action: &protocol.Action{Type: protocol.ActionFollowUpdate, Status: "following"},
		}

	case strings.Contains(lower, "conference") || strings.Contains(lower, "journal"):
		return reply{
			Text: "I found two venues matching your interests: ICSE 2026 and the Journal of Systems and Software.",
			Thoughts: []protocol.Thought{
				thought("search", "queried the venue index"),
				thought("rank", "ranked by topical overlap"),
			},
			Sources: []protocol.Source{
				{Title: "ICSE 2026", URL: "https://conf.researchr.org/home/icse-2026"},
				{Title: "JSS", URL: "https://www.sciencedirect.com/journal/journal-of-systems-and-software"},
			},
		}

	default:
		return reply{
			Text: "I can help you discover conferences and journals, track deadlines, and follow venues. What are you working on?",
		}
	}
}

// parseRecipient pulls the first token containing an @ out of the text.
func parseRecipient(text string) string {
	for _, tok := range strings.Fields(text) {
		tok = strings.Trim(tok, ".,;:!?")
		if strings.Contains(tok, "@") {
			return tok
		}
	}
	return ""
}

func displayRecipient(recipient string) string {
	if recipient == "" {
		return "your contact"
	}
	return recipient
}

// chunks splits the reply body into small deltas for streaming.
func chunks(text string) []string {
	words := strings.Fields(text)
	var out []string
	for i := 0; i < len(words); i += 3 {
		end := i + 3
		if end > len(words) {
			end = len(words)
		}
		chunk := strings.Join(words[i:end], " ")
		if end < len(words) {
			chunk += " "
		}
		out = append(out, chunk)
	}
	return out
}

package usecase

import (
	"strings"

	"github.com/tylr-r/helix/internal/domain"
)

const (
	// FallbackReply is sent whenever no usable answer could be produced.
	FallbackReply = "Sorry, I am having troubles lol"
	// ClearReply acknowledges the clear command.
	ClearReply = "All clear"

	clearCommand = "clear"
)

func isClearCommand(text string) bool {
	return strings.EqualFold(strings.TrimSpace(text), clearCommand)
}

func validMessage(text string) bool {
	return strings.TrimSpace(text) != "" && text != FallbackReply
}

// FilterValidMessages trims a chronological history down to the part worth
// replaying. A clear command drops everything before it. An invalid message
// (blank, or our own fallback reply) is dropped together with the message
// preceding it, which is usually the turn that caused it.
func FilterValidMessages(history []domain.Message) []domain.Message {
	out := make([]domain.Message, 0, len(history))
	for _, m := range history {
		switch {
		case isClearCommand(m.Text):
			out = out[:0]
		case !validMessage(m.Text):
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, m)
		}
	}
	return out
}

package usecase

import (
	"context"
	"strings"

	"github.com/tylr-r/helix/internal/domain"
	"github.com/tylr-r/helix/internal/reqctx"
)

const (
	AgentConnectMessage = "I am connecting you with a real agent. Tyler will be with you within 24 hours."

	agentHistoryWindow = 5
)

var agentRequestPhrases = []string{
	"agent",
	"real person",
	"human",
	"help",
	"support",
	"talk to someone",
	"talk to a person",
	"talk to a human",
	"talk to a real person",
	"talk to a real human",
}

// needsAgent reports whether an Instagram conversation belongs to a human.
// Asking for one sends the handoff notice; once the notice is in the recent
// history the bot stays quiet.
func (r *Relay) needsAgent(ctx context.Context, dest domain.Destination, text string) bool {
	log := reqctx.Logger(ctx).With("user_id", dest.UserID)

	lower := strings.ToLower(text)
	for _, phrase := range agentRequestPhrases {
		if strings.Contains(lower, phrase) {
			if err := r.platform.SendText(ctx, dest, AgentConnectMessage); err != nil {
				log.Error("failed to send agent notice", "err", err)
			}
			return true
		}
	}

	recent, err := r.platform.ConversationHistory(ctx, dest.UserID, agentHistoryWindow, dest.Platform)
	if err != nil {
		log.Warn("could not check history for agent requests", "err", err)
		return false
	}
	for _, m := range recent {
		if m.Text == AgentConnectMessage {
			log.Info("agent already requested")
			return true
		}
	}
	return false
}

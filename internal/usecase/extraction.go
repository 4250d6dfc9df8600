package usecase

import (
	"context"
	"time"

	"github.com/tylr-r/helix/internal/domain"
	"github.com/tylr-r/helix/internal/dossier"
	"github.com/tylr-r/helix/internal/integrations/openai"
	"github.com/tylr-r/helix/internal/reqctx"
)

const (
	extractionMaxTokens   = 1000
	extractionTemperature = 0.3
)

const extractionInstructions = `Look back over this conversation and note anything worth remembering about the person you are talking with.
Use the functions to record people they mentioned and how they relate to them, preferences, interests or goals they revealed, and a short diary-style reflection on how the conversation felt.
Record a one-sentence summary of what the conversation was about.
Only record what the conversation supports. Do not repeat the transcript.`

// extractMemory asks the backend which facts the finished turn revealed and
// appends them to the user's dossier. Failures are logged only.
func (r *Relay) extractMemory(ctx context.Context, t Turn, items []domain.InputItem, reply, model string) {
	defer reqctx.Since(ctx, time.Now(), "extractMemory")
	log := reqctx.Logger(ctx).With("user_id", t.UserID)

	input := make([]domain.InputItem, 0, len(items)+2)
	input = append(input, items...)
	input = append(input,
		domain.TextItem(domain.RoleAssistant, reply),
		domain.TextItem(domain.RoleDeveloper, extractionInstructions),
	)

	resp := r.requester.Request(ctx, openai.Request{
		Input:           input,
		Model:           model,
		MaxOutputTokens: extractionMaxTokens,
		Temperature:     extractionTemperature,
		Functions:       dossier.Tools(),
		ToolChoice:      openai.ToolChoiceRequired,
	})
	if resp == nil {
		log.Warn("memory extraction got no response")
		return
	}
	calls := resp.FunctionCalls()
	if len(calls) == 0 {
		log.Info("memory extraction returned no function calls")
		return
	}
	applied, err := r.memory.Apply(ctx, t.UserID, t.Name, calls...)
	if err != nil {
		log.Error("failed to update dossier", "err", err)
		return
	}
	log.Info("dossier updated", "calls", len(calls), "applied", applied)
}

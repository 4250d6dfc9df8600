package usecase

import (
	"context"
	"strings"

	"github.com/tylr-r/helix/internal/domain"
	"github.com/tylr-r/helix/internal/reqctx"
)

var defaultPrimer = domain.Primer{
	System: domain.PrimerMessage{
		Role:    domain.RoleSystem,
		Content: "You are Tyler, texting with someone you know. Keep replies short, warm and conversational.",
	},
	Developer: domain.PrimerMessage{
		Role:    domain.RoleDeveloper,
		Content: "Write plain text without markdown. Match the other person's tone and message length.",
	},
}

// primerOrDefault fetches the primer, substituting the built-in prompt for
// anything missing. A fetch failure never fails the turn.
func (r *Relay) primerOrDefault(ctx context.Context) domain.Primer {
	if r.primer == nil {
		return defaultPrimer
	}
	p, err := r.primer.FetchPrimer(ctx)
	if err != nil {
		reqctx.Logger(ctx).Warn("primer unavailable, using default", "err", err)
		return defaultPrimer
	}
	if strings.TrimSpace(p.System.Content) == "" {
		p.System = defaultPrimer.System
	}
	if strings.TrimSpace(p.Developer.Content) == "" {
		p.Developer = defaultPrimer.Developer
	}
	return p
}

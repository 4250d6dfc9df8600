package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tylr-r/helix/internal/domain"
	"github.com/tylr-r/helix/internal/reqctx"
)

const (
	humanTimeLayout = "1/2/2006, 3:04:05 PM"
	emptySnapshot   = "nothing yet"
)

// contextParts is everything the assembled context is built from once the
// remote fetches are done.
type contextParts struct {
	primer   domain.Primer
	snapshot string
	history  []domain.Message
	userID   string
	name     string
	platform domain.Platform
	message  domain.InputItem
	lastSeen time.Time
	now      time.Time
}

// assembledContext is the input for one reply.
type assembledContext struct {
	items           []domain.InputItem
	historyReplayed bool
}

// buildContext orders the request as system, developer, replayed history,
// the time reminder and finally the new message.
func buildContext(p contextParts) []domain.InputItem {
	snapshot := strings.TrimSpace(p.snapshot)
	if snapshot == "" {
		snapshot = emptySnapshot
	}
	system := p.primer.System.Content + "\n\nThese are your most recent notes about this person:\n" + snapshot

	items := make([]domain.InputItem, 0, len(p.history)+4)
	items = append(items,
		domain.TextItem(domain.RoleSystem, system),
		domain.TextItem(domain.RoleDeveloper, p.primer.Developer.Content),
	)
	for _, m := range p.history {
		role := domain.RoleAssistant
		if m.SenderID == p.userID {
			role = domain.RoleUser
		}
		items = append(items, domain.TextItem(role, m.Text))
	}
	items = append(items, domain.TextItem(domain.RoleDeveloper, reminder(p)))
	return append(items, p.message)
}

func reminder(p contextParts) string {
	s := fmt.Sprintf("You are talking with %s on %s and you are aware of the current time which may be relevant to the discussion. The current time is %s.",
		p.name, p.platform, p.now.Format(humanTimeLayout))
	if !p.lastSeen.IsZero() {
		s += " It has been " + TimeSince(p.lastSeen, p.now) + " since the last message."
	}
	return s
}

// newMessageItem picks the content for the incoming message: an image wins
// over a link, and a link wins over the text body.
func newMessageItem(text string, att *domain.Attachment) domain.InputItem {
	if att != nil && att.URL != "" {
		switch att.Type {
		case domain.AttachmentImage:
			return domain.ImageItem(att.URL)
		case domain.AttachmentLink, domain.AttachmentFallback:
			return domain.TextItem(domain.RoleUser, "Here's a link: "+att.Title+" - "+att.URL)
		}
	}
	return domain.TextItem(domain.RoleUser, text)
}

func imageOnly(t Turn) bool {
	return t.Attachment != nil && t.Attachment.Type == domain.AttachmentImage &&
		t.Attachment.URL != "" && strings.TrimSpace(t.Text) == ""
}

// assembleContext fetches the primer, memory snapshot and history window and
// builds the request input. Every fetch degrades to defaults on failure.
func (r *Relay) assembleContext(ctx context.Context, t Turn) assembledContext {
	defer reqctx.Since(ctx, time.Now(), "assembleContext")
	log := reqctx.Logger(ctx).With("user_id", t.UserID)

	snapshot, err := r.memory.Snapshot(ctx, t.UserID)
	if err != nil {
		log.Warn("memory snapshot unavailable", "err", err)
		snapshot = ""
	}

	history := r.historyWindow(ctx, t.UserID, t.Platform)
	lastSeen := t.Thread.LastUpdated
	if n := len(history); n > 0 && !history[n-1].CreatedAt.IsZero() {
		lastSeen = history[n-1].CreatedAt
	}

	items := buildContext(contextParts{
		primer:   r.primerOrDefault(ctx),
		snapshot: snapshot,
		history:  history,
		userID:   t.UserID,
		name:     t.Name,
		platform: t.Platform,
		message:  newMessageItem(t.Text, t.Attachment),
		lastSeen: lastSeen,
		now:      r.now().In(r.loc),
	})
	log.Debug("context assembled", "items", len(items), "history", len(history))
	return assembledContext{items: items, historyReplayed: len(history) > 0}
}

// historyWindow returns the filtered, chronological history preceding the
// new message. Only Messenger exposes retrievable history.
func (r *Relay) historyWindow(ctx context.Context, userID string, platform domain.Platform) []domain.Message {
	if platform != domain.PlatformMessenger {
		return nil
	}
	newestFirst, err := r.platform.ConversationHistory(ctx, userID, r.historyLimit, platform)
	if err != nil {
		reqctx.Logger(ctx).Warn("history unavailable", "err", err, "user_id", userID)
		return nil
	}
	if len(newestFirst) == 0 {
		return nil
	}
	// The newest entry is the message being answered.
	older := newestFirst[1:]
	chrono := make([]domain.Message, len(older))
	for i, m := range older {
		chrono[len(older)-1-i] = m
	}
	return FilterValidMessages(chrono)
}

package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tylr-r/helix/internal/domain"
	"github.com/tylr-r/helix/internal/integrations/openai"
	"github.com/tylr-r/helix/internal/reqctx"
)

const (
	defaultHistoryLimit = 20
	defaultUserName     = "someone"

	replyMaxTokens   = 4000
	replyTemperature = 1.0
)

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type Requester interface {
	Request(ctx context.Context, in openai.Request) *domain.Response
}

// Platform is the messaging network adapter.
type Platform interface {
	ConversationHistory(ctx context.Context, userID string, limit int, platform domain.Platform) ([]domain.Message, error)
	DisplayName(ctx context.Context, userID string, platform domain.Platform) (string, error)
	SendText(ctx context.Context, dest domain.Destination, text string) error
	SendAction(ctx context.Context, dest domain.Destination, action domain.SenderAction) error
}

type PrimerSource interface {
	FetchPrimer(ctx context.Context) (domain.Primer, error)
}

type UserStore interface {
	GetUser(ctx context.Context, userID string) (domain.UserRecord, bool, error)
	SaveUserProfile(ctx context.Context, userID, userName string, platform domain.Platform) error
	UpdateThread(ctx context.Context, userID, threadID string, at time.Time) error
}

// Memory is the long-term memory kept per user.
type Memory interface {
	Snapshot(ctx context.Context, userID string) (string, error)
	Apply(ctx context.Context, userID, name string, calls ...domain.OutputItem) (int, error)
}

// Deps are the collaborators of a Relay. Primer may be nil.
type Deps struct {
	Params    ParamGetter
	Requester Requester
	Platform  Platform
	Primer    PrimerSource
	Users     UserStore
	Memory    Memory
}

type modelConfig struct {
	chat       string
	vision     string
	extraction string
}

var defaultModels = modelConfig{
	chat:       "gpt-4.1",
	vision:     "gpt-4.1",
	extraction: "gpt-4.1-mini",
}

// Relay turns inbound platform messages into replies.
type Relay struct {
	params       ParamGetter
	requester    Requester
	platform     Platform
	primer       PrimerSource
	users        UserStore
	memory       Memory
	paramPrefix  string
	historyLimit int
	loc          *time.Location
	now          func() time.Time

	cacheMu     sync.RWMutex
	cacheLoaded bool
	models      modelConfig

	tasks sync.WaitGroup
}

// Turn is one inbound message together with what we know about its sender.
type Turn struct {
	UserID     string
	Platform   domain.Platform
	Name       string
	Text       string
	Attachment *domain.Attachment
	Thread     domain.Thread
}

func NewRelay(d Deps, paramPrefix string, historyLimit int, loc *time.Location) (*Relay, error) {
	if d.Params == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if d.Requester == nil {
		return nil, errors.New("usecase: requester must not be nil")
	}
	if d.Platform == nil {
		return nil, errors.New("usecase: platform client must not be nil")
	}
	if d.Users == nil {
		return nil, errors.New("usecase: user store must not be nil")
	}
	if d.Memory == nil {
		return nil, errors.New("usecase: memory must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Relay{
		params:       d.Params,
		requester:    d.Requester,
		platform:     d.Platform,
		primer:       d.Primer,
		users:        d.Users,
		memory:       d.Memory,
		paramPrefix:  paramPrefix,
		historyLimit: historyLimit,
		loc:          loc,
		now:          time.Now,
	}, nil
}

// Handle runs one inbound message end to end: receipts, user lookup, the
// reply and its delivery. Only an undeliverable reply or an unusable message
// is reported as an error.
func (r *Relay) Handle(ctx context.Context, in domain.InboundMessage) error {
	defer reqctx.Since(ctx, time.Now(), "handleMessage")
	if !in.Platform.Valid() {
		return newError(ErrorInvalidInput, "unknown_platform", nil)
	}
	if strings.TrimSpace(in.UserID) == "" {
		return newError(ErrorInvalidInput, "missing_user_id", nil)
	}
	if strings.TrimSpace(in.Text) == "" && in.Attachment == nil {
		return newError(ErrorInvalidInput, "empty_message", nil)
	}
	log := reqctx.Logger(ctx).With("platform", in.Platform, "user_id", in.UserID)
	log.Info("message received", "message_id", in.MessageID, "has_attachment", in.Attachment != nil)
	dest := in.Destination()

	switch in.Platform {
	case domain.PlatformWhatsApp:
		r.sendAction(ctx, dest, domain.ActionRead)
	case domain.PlatformMessenger:
		r.sendAction(ctx, dest, domain.ActionMarkSeen)
		r.sendAction(ctx, dest, domain.ActionTypingOn)
	}

	user := r.lookupUser(ctx, in)

	if in.Platform == domain.PlatformInstagram && r.needsAgent(ctx, dest, in.Text) {
		log.Info("conversation handed to a human agent")
		return nil
	}

	reply := r.ProcessMessage(ctx, Turn{
		UserID:     in.UserID,
		Platform:   in.Platform,
		Name:       user.UserName,
		Text:       in.Text,
		Attachment: in.Attachment,
		Thread:     user.Thread,
	})

	if in.Platform == domain.PlatformMessenger {
		r.sendAction(ctx, dest, domain.ActionTypingOff)
	}
	if err := r.platform.SendText(ctx, dest, reply); err != nil {
		return upstreamError("send_reply", err)
	}
	return nil
}

// ProcessMessage produces the reply for one turn. It always returns text:
// any failure along the way ends in FallbackReply.
func (r *Relay) ProcessMessage(ctx context.Context, t Turn) string {
	log := reqctx.Logger(ctx).With("user_id", t.UserID, "platform", t.Platform)

	if t.Attachment == nil && isClearCommand(t.Text) {
		if err := r.users.UpdateThread(ctx, t.UserID, "", r.now()); err != nil {
			log.Error("failed to clear thread", "err", err)
		}
		log.Info("thread cleared")
		return ClearReply
	}

	models := r.ensureConfig(ctx)
	cc := r.assembleContext(ctx, t)

	model := models.chat
	if t.Attachment != nil && t.Attachment.Type == domain.AttachmentImage && t.Attachment.URL != "" {
		model = models.vision
	}
	// A replayed window already carries the conversation, so the backend's
	// own thread would repeat it.
	previous := t.Thread.ID
	if cc.historyReplayed {
		previous = ""
	}

	resp := r.requester.Request(ctx, openai.Request{
		Input:              cc.items,
		Model:              model,
		MaxOutputTokens:    replyMaxTokens,
		Temperature:        replyTemperature,
		WebSearch:          true,
		FileSearch:         true,
		ToolChoice:         openai.ToolChoiceAuto,
		PreviousResponseID: previous,
	})
	if resp == nil {
		log.Warn("no response from reasoning backend")
		return FallbackReply
	}
	if strings.TrimSpace(resp.OutputText) == "" {
		log.Warn("reasoning backend returned empty text", "response_id", resp.ID)
		return FallbackReply
	}

	if err := r.users.UpdateThread(ctx, t.UserID, resp.ID, r.now()); err != nil {
		log.Error("failed to store thread id", "err", err, "response_id", resp.ID)
	}

	if imageOnly(t) {
		log.Info("skipping memory extraction for image-only turn")
	} else {
		r.spawnExtraction(ctx, t, cc.items, resp.OutputText, models.extraction)
	}
	return resp.OutputText
}

// Wait blocks until every memory extraction started so far has finished.
func (r *Relay) Wait() {
	r.tasks.Wait()
}

func (r *Relay) spawnExtraction(ctx context.Context, t Turn, items []domain.InputItem, reply, model string) {
	// The reply is already on its way; the extraction must outlive the
	// request's cancellation.
	ctx = context.WithoutCancel(ctx)
	r.tasks.Add(1)
	go func() {
		defer r.tasks.Done()
		r.extractMemory(ctx, t, items, reply, model)
	}()
}

func (r *Relay) sendAction(ctx context.Context, dest domain.Destination, action domain.SenderAction) {
	if err := r.platform.SendAction(ctx, dest, action); err != nil {
		reqctx.Logger(ctx).Warn("sender action failed", "action", action, "err", err)
	}
}

// lookupUser loads the stored record, creating or repairing it as needed.
// A storage failure still yields a name so the turn can proceed.
func (r *Relay) lookupUser(ctx context.Context, in domain.InboundMessage) domain.UserRecord {
	defer reqctx.Since(ctx, time.Now(), "getStoredInfo")
	log := reqctx.Logger(ctx).With("user_id", in.UserID)

	rec, ok, err := r.users.GetUser(ctx, in.UserID)
	if err != nil {
		log.Error("failed to load user", "err", err)
		return domain.UserRecord{UserID: in.UserID, Platform: in.Platform, UserName: r.resolveName(ctx, in)}
	}
	if !ok {
		log.Info("new user")
		rec = domain.UserRecord{UserID: in.UserID, Platform: in.Platform, UserName: r.resolveName(ctx, in)}
		if err := r.users.SaveUserProfile(ctx, in.UserID, rec.UserName, in.Platform); err != nil {
			log.Error("failed to store new user", "err", err)
		}
		return rec
	}
	if strings.TrimSpace(rec.UserName) == "" {
		log.Info("user has no name, resolving")
		rec.UserName = r.resolveName(ctx, in)
		if err := r.users.SaveUserProfile(ctx, in.UserID, rec.UserName, in.Platform); err != nil {
			log.Error("failed to update user name", "err", err)
		}
	}
	return rec
}

func (r *Relay) resolveName(ctx context.Context, in domain.InboundMessage) string {
	if name := strings.TrimSpace(in.DisplayName); name != "" {
		return name
	}
	if in.Platform == domain.PlatformWhatsApp {
		return defaultUserName
	}
	name, err := r.platform.DisplayName(ctx, in.UserID, in.Platform)
	if err != nil {
		reqctx.Logger(ctx).Warn("display name unavailable", "err", err, "user_id", in.UserID)
		return defaultUserName
	}
	if name = strings.TrimSpace(name); name == "" {
		return defaultUserName
	}
	return name
}

// ensureConfig loads the model names once per process. A failed load falls
// back to the built-in models and is retried on the next turn.
func (r *Relay) ensureConfig(ctx context.Context) modelConfig {
	r.cacheMu.RLock()
	if r.cacheLoaded {
		m := r.models
		r.cacheMu.RUnlock()
		return m
	}
	r.cacheMu.RUnlock()

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	if r.cacheLoaded {
		return r.models
	}

	m, err := r.loadSSMParams(ctx)
	if err != nil {
		reqctx.Logger(ctx).Warn("model config unavailable, using defaults", "err", err)
		return defaultModels
	}
	r.models = m
	r.cacheLoaded = true
	return m
}

func (r *Relay) loadSSMParams(ctx context.Context) (modelConfig, error) {
	var m modelConfig
	for _, p := range []struct {
		name string
		dst  *string
	}{
		{"config/openai_model", &m.chat},
		{"config/openai_vision_model", &m.vision},
		{"config/openai_extraction_model", &m.extraction},
	} {
		v, err := r.params.GetParameter(ctx, r.paramPrefix+"/"+p.name)
		if err != nil {
			return modelConfig{}, fmt.Errorf("usecase: load %s: %w", p.name, err)
		}
		if v = strings.TrimSpace(v); v == "" {
			return modelConfig{}, fmt.Errorf("usecase: %s is empty", p.name)
		}
		*p.dst = v
	}
	return m, nil
}

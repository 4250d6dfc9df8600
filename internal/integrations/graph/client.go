// Package graph talks to the Meta Graph API: conversation history, display
// names, replies and sender actions for Messenger, Instagram and WhatsApp.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tylr-r/helix/internal/domain"
	"github.com/tylr-r/helix/internal/integrations/paramstore"
	"github.com/tylr-r/helix/internal/reqctx"
)

const (
	defaultBaseURL    = "https://graph.facebook.com"
	defaultAPIVersion = "v22.0"

	// createdTimeLayout is the Graph API timestamp format, e.g. 2024-05-01T17:04:05+0000.
	createdTimeLayout = "2006-01-02T15:04:05-0700"
)

// HTTPStatusError captures non-2xx Graph responses.
type HTTPStatusError struct {
	StatusCode int
	Endpoint   string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("graph: unexpected status %d from %s: %s", e.StatusCode, e.Endpoint, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

type Client struct {
	baseURL     string
	apiVersion  string
	httpClient  *http.Client
	getter      paramstore.Getter
	paramPrefix string

	tokenMu sync.Mutex
	token   string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

func WithAPIVersion(version string) Option {
	return func(c *Client) {
		if v := strings.Trim(strings.TrimSpace(version), "/"); v != "" {
			c.apiVersion = v
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Graph client. The page access token is read from
// <paramPrefix>/page-access-token on first use.
func NewClient(ps paramstore.Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("graph: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("graph: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:     defaultBaseURL,
		apiVersion:  defaultAPIVersion,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolveToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.token != "" {
		return c.token, nil
	}
	tok, err := paramstore.Token(ctx, c.getter, c.paramPrefix+"/page-access-token")
	if err != nil {
		return "", fmt.Errorf("graph: resolve page token: %w", err)
	}
	c.token = tok
	return tok, nil
}

type conversationsResponse struct {
	Data []struct {
		Name    string `json:"name"`
		Senders struct {
			Data []struct {
				Name string `json:"name"`
				ID   string `json:"id"`
			} `json:"data"`
		} `json:"senders"`
		Messages struct {
			Data []struct {
				ID      string `json:"id"`
				Message string `json:"message"`
				From    struct {
					ID   string `json:"id"`
					Name string `json:"name"`
				} `json:"from"`
				CreatedTime string `json:"created_time"`
			} `json:"data"`
		} `json:"messages"`
	} `json:"data"`
}

func conversationQuery(userID, fields string, platform domain.Platform) url.Values {
	q := url.Values{}
	q.Set("fields", fields)
	q.Set("user_id", userID)
	if platform == domain.PlatformInstagram {
		q.Set("platform", "instagram")
	}
	return q
}

// ConversationHistory returns up to limit messages exchanged with userID,
// newest first, as the Graph API orders them.
func (c *Client) ConversationHistory(ctx context.Context, userID string, limit int, platform domain.Platform) ([]domain.Message, error) {
	defer reqctx.Since(ctx, time.Now(), "getPreviousMessages")
	if limit <= 0 {
		limit = 20
	}
	fields := fmt.Sprintf("messages.limit(%d){from,message,created_time}", limit)

	var payload conversationsResponse
	if err := c.get(ctx, "me/conversations", conversationQuery(userID, fields, platform), &payload); err != nil {
		return nil, fmt.Errorf("graph: conversation history for %s: %w", platform, err)
	}
	if len(payload.Data) == 0 {
		return nil, nil
	}

	raw := payload.Data[0].Messages.Data
	out := make([]domain.Message, 0, len(raw))
	for _, m := range raw {
		msg := domain.Message{ID: m.ID, SenderID: m.From.ID, Text: m.Message}
		if ts, err := time.Parse(createdTimeLayout, m.CreatedTime); err == nil {
			msg.CreatedAt = ts
		} else if ts, err := time.Parse(time.RFC3339, m.CreatedTime); err == nil {
			msg.CreatedAt = ts
		}
		out = append(out, msg)
	}
	return out, nil
}

// DisplayName resolves the user's name. Messenger exposes it through the
// conversation senders, Instagram through the conversation name.
func (c *Client) DisplayName(ctx context.Context, userID string, platform domain.Platform) (string, error) {
	defer reqctx.Since(ctx, time.Now(), "getUserName")
	fields := "senders"
	if platform == domain.PlatformInstagram {
		fields = "name"
	}

	var payload conversationsResponse
	if err := c.get(ctx, "me/conversations", conversationQuery(userID, fields, platform), &payload); err != nil {
		return "", fmt.Errorf("graph: display name for %s: %w", platform, err)
	}
	if len(payload.Data) == 0 {
		return "", errors.New("graph: no conversation found")
	}
	conv := payload.Data[0]
	if platform == domain.PlatformInstagram {
		return conv.Name, nil
	}
	if len(conv.Senders.Data) == 0 {
		return "", errors.New("graph: conversation has no senders")
	}
	return conv.Senders.Data[0].Name, nil
}

type recipient struct {
	ID string `json:"id"`
}

type messengerText struct {
	Text string `json:"text"`
}

type messengerSend struct {
	Recipient    recipient      `json:"recipient"`
	Message      *messengerText `json:"message,omitempty"`
	SenderAction string         `json:"sender_action,omitempty"`
}

type whatsAppText struct {
	Body string `json:"body"`
}

type whatsAppSend struct {
	MessagingProduct string        `json:"messaging_product"`
	To               string        `json:"to,omitempty"`
	Text             *whatsAppText `json:"text,omitempty"`
	Status           string        `json:"status,omitempty"`
	MessageID        string        `json:"message_id,omitempty"`
}

// SendText delivers a reply to dest.
func (c *Client) SendText(ctx context.Context, dest domain.Destination, text string) error {
	defer reqctx.Since(ctx, time.Now(), "sendMessage")
	reqctx.Logger(ctx).Info("sending message", "platform", dest.Platform, "user_id", dest.UserID)

	if dest.Platform == domain.PlatformWhatsApp {
		if dest.PhoneNumberID == "" {
			return errors.New("graph: whatsapp destination needs a phone number id")
		}
		return c.post(ctx, url.PathEscape(dest.PhoneNumberID)+"/messages", whatsAppSend{
			MessagingProduct: "whatsapp",
			To:               dest.UserID,
			Text:             &whatsAppText{Body: text},
		})
	}
	return c.post(ctx, "me/messages", messengerSend{
		Recipient: recipient{ID: dest.UserID},
		Message:   &messengerText{Text: text},
	})
}

// SendAction sends a receipt or typing indicator. WhatsApp only supports
// marking the inbound message as read.
func (c *Client) SendAction(ctx context.Context, dest domain.Destination, action domain.SenderAction) error {
	defer reqctx.Since(ctx, time.Now(), "sendAction")

	if dest.Platform == domain.PlatformWhatsApp {
		if action != domain.ActionRead {
			return fmt.Errorf("graph: whatsapp does not support %s", action)
		}
		if dest.PhoneNumberID == "" || dest.MessageID == "" {
			return errors.New("graph: whatsapp receipt needs phone number id and message id")
		}
		return c.post(ctx, url.PathEscape(dest.PhoneNumberID)+"/messages", whatsAppSend{
			MessagingProduct: "whatsapp",
			Status:           "read",
			MessageID:        dest.MessageID,
		})
	}
	if action == domain.ActionRead {
		action = domain.ActionMarkSeen
	}
	return c.post(ctx, "me/messages", messengerSend{
		Recipient:    recipient{ID: dest.UserID},
		SenderAction: string(action),
	})
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	raw, err := c.do(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("graph: marshal request: %w", err)
	}
	if _, err := c.do(ctx, http.MethodPost, endpoint, nil, body); err != nil {
		return fmt.Errorf("graph: post %s: %w", endpoint, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, body []byte) ([]byte, error) {
	token, err := c.resolveToken(ctx)
	if err != nil {
		return nil, err
	}
	if query == nil {
		query = url.Values{}
	}
	query.Set("access_token", token)
	target := c.baseURL + "/" + c.apiVersion + "/" + endpoint + "?" + query.Encode()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", redactToken(err, token))
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{StatusCode: res.StatusCode, Endpoint: endpoint, Body: string(buf)}
	}
	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

// redactToken keeps the page token out of logged transport errors, which
// embed the full request URL.
func redactToken(err error, token string) error {
	msg := err.Error()
	if token == "" || !strings.Contains(msg, token) {
		return err
	}
	return errors.New(strings.ReplaceAll(msg, token, "REDACTED"))
}

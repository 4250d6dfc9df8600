// Package notion fetches the prompt primer kept in a Notion code block.
package notion

import (
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
	defaultBaseURL = "https://api.notion.com/v1"
	notionVersion  = "2022-02-22"
)

type Client struct {
	baseURL     string
	blockID     string
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

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient reads the primer from blockID using the integration token stored
// at <paramPrefix>/notion-token.
func NewClient(ps paramstore.Getter, paramPrefix, blockID string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("notion: paramstore getter must not be nil")
	}
	blockID = strings.TrimSpace(blockID)
	if blockID == "" {
		return nil, errors.New("notion: block id must not be empty")
	}
	c := &Client{
		baseURL:     defaultBaseURL,
		blockID:     blockID,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		getter:      ps,
		paramPrefix: strings.TrimRight(strings.TrimSpace(paramPrefix), "/"),
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
	tok, err := paramstore.Token(ctx, c.getter, c.paramPrefix+"/notion-token")
	if err != nil {
		return "", fmt.Errorf("notion: resolve token: %w", err)
	}
	c.token = tok
	return tok, nil
}

type blockResponse struct {
	Type string `json:"type"`
	Code *struct {
		RichText []struct {
			PlainText string `json:"plain_text"`
		} `json:"rich_text"`
	} `json:"code"`
}

// FetchPrimer downloads the code block and decodes its text as a primer.
func (c *Client) FetchPrimer(ctx context.Context) (domain.Primer, error) {
	defer reqctx.Since(ctx, time.Now(), "getPrimer")

	token, err := c.resolveToken(ctx)
	if err != nil {
		return domain.Primer{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/blocks/"+url.PathEscape(c.blockID), nil)
	if err != nil {
		return domain.Primer{}, fmt.Errorf("notion: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Notion-Version", notionVersion)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Primer{}, fmt.Errorf("notion: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return domain.Primer{}, fmt.Errorf("notion: read response body: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return domain.Primer{}, fmt.Errorf("notion: unexpected status %d: %s", res.StatusCode, truncate(string(raw), 512))
	}

	var block blockResponse
	if err := json.Unmarshal(raw, &block); err != nil {
		return domain.Primer{}, fmt.Errorf("notion: decode block: %w", err)
	}
	if block.Code == nil || len(block.Code.RichText) == 0 {
		return domain.Primer{}, errors.New("notion: block has no code text")
	}
	return ParsePrimer(block.Code.RichText[0].PlainText)
}

// ParsePrimer decodes primer JSON. Each role may be given as an object or as
// a one-element array of objects; the array form is what older primer
// documents use.
func ParsePrimer(text string) (domain.Primer, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return domain.Primer{}, fmt.Errorf("notion: parse primer: %w", err)
	}

	var p domain.Primer
	var err error
	if p.System, err = primerMessage(fields["system"]); err != nil {
		return domain.Primer{}, fmt.Errorf("notion: primer system: %w", err)
	}
	if p.Developer, err = primerMessage(fields["developer"]); err != nil {
		return domain.Primer{}, fmt.Errorf("notion: primer developer: %w", err)
	}
	return p, nil
}

func primerMessage(raw json.RawMessage) (domain.PrimerMessage, error) {
	if len(raw) == 0 {
		return domain.PrimerMessage{}, errors.New("missing")
	}
	var msg domain.PrimerMessage
	if raw[0] == '[' {
		var list []domain.PrimerMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return domain.PrimerMessage{}, err
		}
		if len(list) == 0 {
			return domain.PrimerMessage{}, errors.New("empty list")
		}
		msg = list[0]
	} else if err := json.Unmarshal(raw, &msg); err != nil {
		return domain.PrimerMessage{}, err
	}
	if strings.TrimSpace(msg.Content) == "" {
		return domain.PrimerMessage{}, errors.New("content is empty")
	}
	return msg, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

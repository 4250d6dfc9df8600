package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tylr-r/helix/internal/domain"
	"github.com/tylr-r/helix/internal/integrations/paramstore"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Tool is one entry of the Responses API tools list.
type Tool struct {
	Type              string          `json:"type"`
	Name              string          `json:"name,omitempty"`
	Description       string          `json:"description,omitempty"`
	Parameters        json.RawMessage `json:"parameters,omitempty"`
	VectorStoreIDs    []string        `json:"vector_store_ids,omitempty"`
	UserLocation      *UserLocation   `json:"user_location,omitempty"`
	SearchContextSize string          `json:"search_context_size,omitempty"`
}

type UserLocation struct {
	Type    string `json:"type"`
	Country string `json:"country,omitempty"`
	Region  string `json:"region,omitempty"`
}

// ResponseRequest is a single Responses API call.
type ResponseRequest struct {
	Model              string
	Input              []domain.InputItem
	PreviousResponseID string
	Tools              []Tool
	ToolChoice         string
	Temperature        float64
	MaxOutputTokens    int
}

// responsesRequest is the wire shape for POST /v1/responses.
type responsesRequest struct {
	Model              string             `json:"model"`
	Input              []domain.InputItem `json:"input"`
	PreviousResponseID *string            `json:"previous_response_id,omitempty"`
	Tools              []Tool             `json:"tools,omitempty"`
	ToolChoice         string             `json:"tool_choice,omitempty"`
	Temperature        *float64           `json:"temperature,omitempty"`
	TopP               *float64           `json:"top_p,omitempty"`
	MaxOutputTokens    int                `json:"max_output_tokens,omitempty"`
	Text               *textConfig        `json:"text,omitempty"`
}

type textConfig struct {
	Format struct {
		Type string `json:"type"`
	} `json:"format"`
}

// responsesResponse is the minimal response shape returned by the Responses endpoint.
type responsesResponse struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	OutputText string `json:"output_text"`
	Output     []struct {
		Type      string `json:"type"`
		Role      string `json:"role"`
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
		CallID    string `json:"call_id"`
		Content   []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
}

type fileObject struct {
	ID string `json:"id"`
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is a focused OpenAI client for the Responses, Files and Vector
// Store endpoints.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      paramstore.Getter
	paramPrefix string

	keyMu  sync.Mutex
	apiKey string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a new Client backed by the given paramstore.Getter for
// API key retrieval. The key is fetched from SSM on first use and reused for
// the lifetime of the process; a failed fetch is retried on the next call.
func NewClient(ps paramstore.Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("openai: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("openai: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	if c.apiKey != "" {
		return c.apiKey, nil
	}
	key, err := paramstore.Token(ctx, c.getter, c.paramPrefix+"/open-ai-token")
	if err != nil {
		return "", fmt.Errorf("openai: resolve api key: %w", err)
	}
	c.apiKey = key
	return key, nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 60 * time.Second}
}

// endpointURL joins path onto the API base, adding /v1 when the base lacks it.
func endpointURL(baseURL, path string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	if strings.HasSuffix(base, "/v1") {
		return base + path
	}
	return base + "/v1" + path
}

// CreateResponse calls POST /v1/responses.
func (c *Client) CreateResponse(ctx context.Context, in ResponseRequest) (*domain.Response, error) {
	if in.Model == "" {
		return nil, errors.New("openai: model must not be empty")
	}

	body := responsesRequest{
		Model:           in.Model,
		Input:           in.Input,
		Tools:           in.Tools,
		ToolChoice:      in.ToolChoice,
		Temperature:     &in.Temperature,
		TopP:            floatPtr(0.9),
		MaxOutputTokens: in.MaxOutputTokens,
		Text:            &textConfig{},
	}
	body.Text.Format.Type = "text"
	if in.PreviousResponseID != "" {
		body.PreviousResponseID = &in.PreviousResponseID
	}
	if len(in.Tools) == 0 {
		body.ToolChoice = ""
	}

	raw, err := c.doJSON(ctx, http.MethodPost, "/responses", body)
	if err != nil {
		return nil, fmt.Errorf("openai: request failed: %w", err)
	}

	var payload responsesResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return nil, fmt.Errorf("openai: decode response: %w", decErr)
	}
	if payload.ID == "" {
		return nil, errors.New("openai: response missing id")
	}
	return toDomainResponse(payload), nil
}

func toDomainResponse(payload responsesResponse) *domain.Response {
	out := &domain.Response{ID: payload.ID}
	var text strings.Builder
	for _, item := range payload.Output {
		switch item.Type {
		case domain.OutputMessage:
			var msg strings.Builder
			for _, part := range item.Content {
				if part.Type == domain.ContentOutputText {
					msg.WriteString(part.Text)
				}
			}
			text.WriteString(msg.String())
			out.Output = append(out.Output, domain.OutputItem{Type: item.Type, Role: item.Role, Text: msg.String()})
		case domain.OutputFunctionCall:
			out.Output = append(out.Output, domain.OutputItem{
				Type:      item.Type,
				Name:      item.Name,
				Arguments: item.Arguments,
				CallID:    item.CallID,
			})
		}
	}
	out.OutputText = payload.OutputText
	if out.OutputText == "" {
		out.OutputText = text.String()
	}
	return out
}

// UploadFile stores content as an assistants file and returns its id.
func (c *Client) UploadFile(ctx context.Context, name string, content []byte) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("purpose", "assistants"); err != nil {
		return "", fmt.Errorf("openai: build upload: %w", err)
	}
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("openai: build upload: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return "", fmt.Errorf("openai: build upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("openai: build upload: %w", err)
	}

	raw, err := c.do(ctx, http.MethodPost, "/files", &buf, w.FormDataContentType())
	if err != nil {
		return "", fmt.Errorf("openai: upload file: %w", err)
	}
	var f fileObject
	if err := json.Unmarshal(raw, &f); err != nil {
		return "", fmt.Errorf("openai: decode file: %w", err)
	}
	if f.ID == "" {
		return "", errors.New("openai: upload file: missing id")
	}
	return f.ID, nil
}

// DeleteFile removes an uploaded file.
func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	if _, err := c.do(ctx, http.MethodDelete, "/files/"+url.PathEscape(fileID), nil, ""); err != nil {
		return fmt.Errorf("openai: delete file %s: %w", fileID, err)
	}
	return nil
}

// AttachFile adds fileID to a vector store and returns the vector store file id.
func (c *Client) AttachFile(ctx context.Context, vectorStoreID, fileID string) (string, error) {
	raw, err := c.doJSON(ctx, http.MethodPost, "/vector_stores/"+url.PathEscape(vectorStoreID)+"/files", map[string]string{"file_id": fileID})
	if err != nil {
		return "", fmt.Errorf("openai: attach file %s: %w", fileID, err)
	}
	var f fileObject
	if err := json.Unmarshal(raw, &f); err != nil {
		return "", fmt.Errorf("openai: decode vector store file: %w", err)
	}
	return f.ID, nil
}

// DetachFile removes a file from a vector store without deleting the file.
func (c *Client) DetachFile(ctx context.Context, vectorStoreID, vectorStoreFileID string) error {
	path := "/vector_stores/" + url.PathEscape(vectorStoreID) + "/files/" + url.PathEscape(vectorStoreFileID)
	if _, err := c.do(ctx, http.MethodDelete, path, nil, ""); err != nil {
		return fmt.Errorf("openai: detach file %s: %w", vectorStoreFileID, err)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return c.do(ctx, method, path, bytes.NewReader(body), "application/json")
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) ([]byte, error) {
	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return nil, err
	}

	target := endpointURL(c.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        target,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

func floatPtr(f float64) *float64 { return &f }

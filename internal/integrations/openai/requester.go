package openai

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/tylr-r/helix/internal/domain"
	"github.com/tylr-r/helix/internal/reqctx"
)

const (
	defaultRetryAttempts = 3
	defaultRetryDelay    = time.Second

	ToolChoiceAuto     = "auto"
	ToolChoiceRequired = "required"
)

var errEmptyResponse = errors.New("openai: empty response received")

// retryableSignatures are matched case-insensitively against error text when
// the error carries no status code.
var retryableSignatures = []string{"rate limit", "timeout", "500", "503"}

// Backoff returns how long to wait after the given failed attempt (1-based).
type Backoff func(attempt int) time.Duration

// LinearBackoff waits delay * attempt.
func LinearBackoff(delay time.Duration) Backoff {
	return func(attempt int) time.Duration {
		return delay * time.Duration(attempt)
	}
}

// Request is one logical reasoning call; the Requester may turn it into
// several HTTP attempts.
type Request struct {
	Input              []domain.InputItem
	Model              string
	MaxOutputTokens    int
	Temperature        float64
	WebSearch          bool
	FileSearch         bool
	Functions          []domain.FunctionTool
	ToolChoice         string
	PreviousResponseID string
}

type responsesAPI interface {
	CreateResponse(ctx context.Context, in ResponseRequest) (*domain.Response, error)
}

// Requester sends requests with bounded retries. It never returns an error:
// a nil response means no answer is available.
type Requester struct {
	api           responsesAPI
	vectorStoreID string
	attempts      int
	backoff       Backoff
	sleep         func(ctx context.Context, d time.Duration) error
}

type RequesterOption func(*Requester)

func WithRetryAttempts(n int) RequesterOption {
	return func(r *Requester) {
		if n > 0 {
			r.attempts = n
		}
	}
}

func WithBackoff(b Backoff) RequesterOption {
	return func(r *Requester) {
		if b != nil {
			r.backoff = b
		}
	}
}

// WithVectorStore enables file_search against the deployment vector store.
func WithVectorStore(id string) RequesterOption {
	return func(r *Requester) {
		r.vectorStoreID = strings.TrimSpace(id)
	}
}

func NewRequester(api responsesAPI, opts ...RequesterOption) (*Requester, error) {
	if api == nil {
		return nil, errors.New("openai: responses api must not be nil")
	}
	r := &Requester{
		api:      api,
		attempts: defaultRetryAttempts,
		backoff:  LinearBackoff(defaultRetryDelay),
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

type attemptState int

const (
	stateAttempting attemptState = iota
	stateRetrying
	stateSucceeded
	stateFailed
)

// Request runs the attempt loop:
//
//	attempting -> succeeded
//	attempting -> retrying(n) -> attempting   (retryable error, attempts left)
//	attempting -> failed                      (terminal error or attempts exhausted)
//
// Only the first attempt carries PreviousResponseID.
func (r *Requester) Request(ctx context.Context, in Request) *domain.Response {
	start := time.Now()
	defer reqctx.Since(ctx, start, "openAiResponsesRequest")
	log := reqctx.Logger(ctx)

	call := ResponseRequest{
		Model:              in.Model,
		Input:              in.Input,
		PreviousResponseID: in.PreviousResponseID,
		Tools:              r.tools(in),
		ToolChoice:         in.ToolChoice,
		Temperature:        in.Temperature,
		MaxOutputTokens:    in.MaxOutputTokens,
	}

	var (
		state   = stateAttempting
		attempt int
		resp    *domain.Response
		lastErr error
	)
	for {
		switch state {
		case stateAttempting:
			attempt++
			log.Debug("starting responses call",
				"attempt", attempt,
				"max_attempts", r.attempts,
				"model", call.Model,
				"has_previous_response", call.PreviousResponseID != "",
			)
			out, err := r.api.CreateResponse(ctx, call)
			if err == nil && out == nil {
				err = errEmptyResponse
			}
			switch {
			case err == nil:
				resp, state = out, stateSucceeded
			case attempt >= r.attempts || !IsRetryable(err):
				lastErr, state = err, stateFailed
			default:
				lastErr, state = err, stateRetrying
			}

		case stateRetrying:
			delay := r.backoff(attempt)
			log.Warn("retrying responses call",
				"err", lastErr,
				"attempt", attempt,
				"max_attempts", r.attempts,
				"delay_ms", delay.Milliseconds(),
			)
			// A failed call may have left server-side state behind; retries
			// rely on the explicit input only.
			call.PreviousResponseID = ""
			if err := r.sleep(ctx, delay); err != nil {
				lastErr, state = err, stateFailed
				continue
			}
			state = stateAttempting

		case stateSucceeded:
			return resp

		case stateFailed:
			log.Error("responses call failed",
				"err", lastErr,
				"attempt", attempt,
				"max_attempts", r.attempts,
			)
			return nil
		}
	}
}

func (r *Requester) tools(in Request) []Tool {
	var tools []Tool
	if in.WebSearch {
		tools = append(tools, Tool{
			Type:              "web_search_preview",
			UserLocation:      &UserLocation{Type: "approximate", Country: "US", Region: "WA"},
			SearchContextSize: "medium",
		})
	}
	if in.FileSearch && r.vectorStoreID != "" {
		tools = append(tools, Tool{
			Type:           "file_search",
			VectorStoreIDs: []string{r.vectorStoreID},
		})
	}
	for _, fn := range in.Functions {
		tools = append(tools, Tool{
			Type:        "function",
			Name:        fn.Name,
			Description: fn.Description,
			Parameters:  fn.Parameters,
		})
	}
	return tools
}

// IsRetryable reports whether err looks transient: rate limiting, timeouts,
// or a 500/503 from upstream.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable:
			return true
		}
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range retryableSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

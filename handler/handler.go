package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"github.com/tylr-r/helix/internal/domain"
	"github.com/tylr-r/helix/internal/reqctx"
	"github.com/tylr-r/helix/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

type Relay interface {
	Handle(ctx context.Context, in domain.InboundMessage) error
	Wait()
}

type Handler struct {
	relay       Relay
	verifyToken string
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewHandler(relay Relay, verifyToken string) (*Handler, error) {
	if relay == nil {
		return nil, errors.New("handler: relay must not be nil")
	}
	verifyToken = strings.TrimSpace(verifyToken)
	if verifyToken == "" {
		return nil, errors.New("handler: verify token must not be empty")
	}
	return &Handler{relay: relay, verifyToken: verifyToken}, nil
}

// Handle serves the webhook: GET answers the subscription challenge, POST
// ingests platform events.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	start := time.Now()
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = newUUID()
	}
	ctx = reqctx.WithLogger(ctx, reqctx.Logger(ctx).With("correlation_id", correlationID))
	log := reqctx.Logger(ctx)

	var resp events.APIGatewayProxyResponse
	switch req.HTTPMethod {
	case http.MethodGet:
		resp = h.verify(ctx, req.QueryStringParameters)
	case http.MethodPost:
		resp = h.ingest(ctx, req)
	default:
		resp = jsonResponse(http.StatusMethodNotAllowed, errorResponse{Error: "METHOD_NOT_ALLOWED"})
	}
	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}
	resp.Headers[correlationHeader] = correlationID
	log.Info("webhook handled", "method", req.HTTPMethod, "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())
	return resp, nil
}

func (h *Handler) verify(ctx context.Context, q map[string]string) events.APIGatewayProxyResponse {
	mode, token, challenge := q["hub.mode"], q["hub.verify_token"], q["hub.challenge"]
	if mode == "" || token == "" {
		return textResponse(http.StatusNotFound, "")
	}
	if mode != "subscribe" || subtle.ConstantTimeCompare([]byte(token), []byte(h.verifyToken)) != 1 {
		reqctx.Logger(ctx).Warn("webhook verification rejected", "mode", mode)
		return textResponse(http.StatusForbidden, "")
	}
	reqctx.Logger(ctx).Info("webhook verified")
	return textResponse(http.StatusOK, challenge)
}

// ingest answers every well-formed event with 200 so the platform does not
// redeliver it; per-message failures are logged.
func (h *Handler) ingest(ctx context.Context, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	log := reqctx.Logger(ctx)

	ev, err := ParseEvent([]byte(req.Body))
	if errors.Is(err, errUnsupportedObject) {
		log.Info("ignoring webhook", "err", err)
		return textResponse(http.StatusOK, "EVENT_RECEIVED")
	}
	if err != nil {
		log.Warn("invalid webhook body", "err", err)
		return jsonResponse(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput)})
	}

	msgs := ev.Messages()
	if len(msgs) == 0 {
		log.Debug("no messages in event", "platform", ev.Platform())
		return textResponse(http.StatusOK, "EVENT_RECEIVED")
	}
	for _, m := range msgs {
		mctx := reqctx.WithRequestID(ctx, newUUID())
		if err := h.relay.Handle(mctx, m); err != nil {
			logRelayError(mctx, err)
		}
	}
	h.relay.Wait()
	return textResponse(http.StatusOK, "EVENT_RECEIVED")
}

func logRelayError(ctx context.Context, err error) {
	log := reqctx.Logger(ctx)
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		log.Error("message failed", "code", "INTERNAL_ERROR", "err", err)
		return
	}
	if ue.Code == usecase.ErrorInvalidInput {
		log.Warn("message rejected", "code", ue.Code, "reason", ue.Reason)
		return
	}
	log.Error("message failed", "code", ue.Code, "reason", ue.Reason, "err", ue.Err)
}

func headerValue(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func textResponse(status int, body string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "text/plain"},
		Body:       body,
	}
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		return textResponse(http.StatusInternalServerError, "")
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}

var newUUID = func() string {
	return uuid.NewString()
}

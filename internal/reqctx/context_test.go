package reqctx

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRequestID_RoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	require.Equal(t, "req-1", RequestID(ctx))
}

func TestRequestID_Missing(t *testing.T) {
	require.Empty(t, RequestID(context.Background()))
}

func TestLogger_DefaultsToSlogDefault(t *testing.T) {
	require.Equal(t, slog.Default(), Logger(context.Background()))
}

func TestLogger_TagsRequestID(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx := WithLogger(context.Background(), base)
	ctx = WithRequestID(ctx, "req-42")

	Logger(ctx).Info("hello")
	require.Contains(t, buf.String(), "request_id=req-42")

	Since(ctx, time.Now(), "step")
	require.Contains(t, buf.String(), "step=step")
}

func TestWithLogger_NilIsIgnored(t *testing.T) {
	ctx := context.Background()
	require.Equal(t, ctx, WithLogger(ctx, nil))
}

package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tylr-r/helix/internal/domain"
)

// ---------------------------------------------------------------------------
// endpointURL helper
// ---------------------------------------------------------------------------

func TestEndpointURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://api.openai.com/v1", "https://api.openai.com/v1/responses"},
		{"https://api.openai.com/v1/", "https://api.openai.com/v1/responses"},
		{"http://localhost:8080", "http://localhost:8080/v1/responses"},
		{"", "https://api.openai.com/v1/responses"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, endpointURL(tc.base, "/responses"), "base=%q", tc.base)
	}
}

// ---------------------------------------------------------------------------
// NewClient
// ---------------------------------------------------------------------------

func TestNewClient_NilGetter(t *testing.T) {
	_, err := NewClient(nil, "/helix")
	require.Error(t, err)
	require.Contains(t, err.Error(), "nil")
}

func TestNewClient_EmptyPrefix(t *testing.T) {
	_, err := NewClient(&fakeGetter{}, " / ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "prefix")
}

func TestNewClient_Valid(t *testing.T) {
	c, err := NewClient(&fakeGetter{}, "/helix/")
	require.NoError(t, err)
	require.Equal(t, "https://api.openai.com/v1", c.baseURL)
	require.Equal(t, "/helix", c.paramPrefix)
}

// ---------------------------------------------------------------------------
// resolveAPIKey
// ---------------------------------------------------------------------------

// fakeGetter is a minimal paramstore.Getter stub for use within this package.
type fakeGetter struct {
	val    string
	err    error
	names  []string
	onCall func()
}

func (f *fakeGetter) GetParameter(_ context.Context, name string) (string, error) {
	f.names = append(f.names, name)
	if f.onCall != nil {
		f.onCall()
	}
	return f.val, f.err
}

func TestResolveAPIKey_FetchedOnce(t *testing.T) {
	calls := 0
	g := &fakeGetter{val: `{"token":"sk-from-ssm"}`}
	g.onCall = func() { calls++ }
	c, err := NewClient(g, "/helix")
	require.NoError(t, err)

	key, err := c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-from-ssm", key)
	require.Equal(t, []string{"/helix/open-ai-token"}, g.names)

	_, _ = c.resolveAPIKey(context.Background())
	_, _ = c.resolveAPIKey(context.Background())
	require.Equal(t, 1, calls, "SSM must only be called once per process lifetime")
}

func TestResolveAPIKey_FailureNotCached(t *testing.T) {
	g := &fakeGetter{err: errors.New("ssm unavailable")}
	c, err := NewClient(g, "/helix")
	require.NoError(t, err)

	_, err = c.resolveAPIKey(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "ssm unavailable")

	g.err = nil
	g.val = `{"token":"sk-late"}`
	key, err := c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-late", key)
}

// ---------------------------------------------------------------------------
// Client.CreateResponse
// ---------------------------------------------------------------------------

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(
		&fakeGetter{val: `{"token":"sk-test"}`},
		"/helix",
		WithBaseURL(srv.URL),
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
	)
	require.NoError(t, err)
	return c
}

func TestClient_CreateResponse_HappyPath(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/responses", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "resp_123",
			"status": "completed",
			"output": [{
				"type": "message",
				"role": "assistant",
				"content": [{"type": "output_text", "text": "Hello from mock"}]
			}]
		}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	resp, err := c.CreateResponse(context.Background(), ResponseRequest{
		Model:              "gpt-mock",
		Input:              []domain.InputItem{domain.TextItem(domain.RoleUser, "hi")},
		PreviousResponseID: "resp_prev",
		Tools:              []Tool{{Type: "web_search_preview"}},
		ToolChoice:         ToolChoiceAuto,
		Temperature:        0.7,
		MaxOutputTokens:    500,
	})
	require.NoError(t, err)
	require.Equal(t, "resp_123", resp.ID)
	require.Equal(t, "Hello from mock", resp.OutputText)

	require.Equal(t, "gpt-mock", got["model"])
	require.Equal(t, "resp_prev", got["previous_response_id"])
	require.Equal(t, "auto", got["tool_choice"])
	require.EqualValues(t, 500, got["max_output_tokens"])
	require.EqualValues(t, 0.9, got["top_p"])
}

func TestClient_CreateResponse_OmitsEmptyContinuationAndToolChoice(t *testing.T) {
	var raw string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		raw = string(body)
		_, _ = w.Write([]byte(`{"id":"resp_1","output_text":"ok"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	resp, err := c.CreateResponse(context.Background(), ResponseRequest{
		Model:      "gpt-mock",
		ToolChoice: ToolChoiceRequired,
	})
	require.NoError(t, err)
	require.Equal(t, "ok", resp.OutputText)
	require.NotContains(t, raw, "previous_response_id")
	require.NotContains(t, raw, "tool_choice")
}

func TestClient_CreateResponse_FunctionCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"id": "resp_fn",
			"output": [
				{"type": "function_call", "name": "update_user_context", "arguments": "{\"context\":\"moved\"}", "call_id": "call_1"},
				{"type": "reasoning"}
			]
		}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	resp, err := c.CreateResponse(context.Background(), ResponseRequest{Model: "gpt-mock"})
	require.NoError(t, err)
	calls := resp.FunctionCalls()
	require.Len(t, calls, 1)
	require.Equal(t, "update_user_context", calls[0].Name)
	require.Equal(t, `{"context":"moved"}`, calls[0].Arguments)
	require.Empty(t, resp.OutputText)
}

func TestClient_CreateResponse_EmptyModel(t *testing.T) {
	c, err := NewClient(&fakeGetter{val: `{"token":"sk-test"}`}, "/helix")
	require.NoError(t, err)
	_, err = c.CreateResponse(context.Background(), ResponseRequest{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "model")
}

func TestClient_CreateResponse_StatusErrors(t *testing.T) {
	for _, code := range []int{400, 429, 500, 503} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
			_, _ = w.Write([]byte(`{"error":"nope"}`))
		}))

		c := newTestClient(t, srv)
		_, err := c.CreateResponse(context.Background(), ResponseRequest{Model: "gpt-mock"})
		srv.Close()

		require.Error(t, err)
		var statusErr *HTTPStatusError
		require.ErrorAs(t, err, &statusErr)
		require.Equal(t, code, statusErr.HTTPStatusCode())
		require.Contains(t, err.Error(), "unexpected status")
	}
}

func TestClient_CreateResponse_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not-a-json`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.CreateResponse(context.Background(), ResponseRequest{Model: "gpt-mock"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode response")
}

func TestClient_CreateResponse_MissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"output_text":"orphan"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.CreateResponse(context.Background(), ResponseRequest{Model: "gpt-mock"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing id")
}

func TestClient_CreateResponse_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"id":"late"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	c.httpClient = &http.Client{Timeout: 50 * time.Millisecond}
	_, err := c.CreateResponse(context.Background(), ResponseRequest{Model: "gpt-mock"})
	require.Error(t, err)
	require.True(t, IsRetryable(err))
}

func TestClient_CreateResponse_NetworkError(t *testing.T) {
	c, err := NewClient(&fakeGetter{val: `{"token":"sk-test"}`}, "/helix")
	require.NoError(t, err)
	c.baseURL = "http://127.0.0.1:1"
	c.httpClient = &http.Client{Timeout: 100 * time.Millisecond}

	_, err = c.CreateResponse(context.Background(), ResponseRequest{Model: "gpt-mock"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "request failed")
}

// ---------------------------------------------------------------------------
// Files and vector stores
// ---------------------------------------------------------------------------

func TestClient_UploadFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/files", r.URL.Path)
		require.True(t, strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Equal(t, "assistants", r.FormValue("purpose"))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		require.Equal(t, "user-1-dossier.md", hdr.Filename)
		content, _ := io.ReadAll(f)
		require.Equal(t, "# dossier", string(content))
		_, _ = w.Write([]byte(`{"id":"file_1"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	id, err := c.UploadFile(context.Background(), "user-1-dossier.md", []byte("# dossier"))
	require.NoError(t, err)
	require.Equal(t, "file_1", id)
}

func TestClient_AttachDetachDelete(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method+" "+r.URL.Path)
		if r.Method == http.MethodPost {
			body, _ := io.ReadAll(r.Body)
			require.JSONEq(t, `{"file_id":"file_1"}`, string(body))
			_, _ = w.Write([]byte(`{"id":"vsf_1"}`))
			return
		}
		_, _ = w.Write([]byte(`{"deleted":true}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	vsFileID, err := c.AttachFile(context.Background(), "vs_1", "file_1")
	require.NoError(t, err)
	require.Equal(t, "vsf_1", vsFileID)
	require.NoError(t, c.DetachFile(context.Background(), "vs_1", "vsf_1"))
	require.NoError(t, c.DeleteFile(context.Background(), "file_1"))

	require.Equal(t, []string{
		"POST /v1/vector_stores/vs_1/files",
		"DELETE /v1/vector_stores/vs_1/files/vsf_1",
		"DELETE /v1/files/file_1",
	}, seen)
}

func TestClient_DeleteFile_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	err := c.DeleteFile(context.Background(), "file_gone")
	require.Error(t, err)
	require.Contains(t, err.Error(), "404")
}

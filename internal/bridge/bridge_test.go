package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphabridge/runtime/internal/breaker"
	"github.com/alphabridge/runtime/internal/delegate"
	"github.com/alphabridge/runtime/internal/memory"
	"github.com/alphabridge/runtime/internal/registry"
	"github.com/alphabridge/runtime/internal/toolloop"
)

func newTestDispatcher(t *testing.T, webhookURL string, toolLoop *toolloop.Loop, delegator *delegate.Router) *Dispatcher {
	t.Helper()
	store, err := memory.NewLocalFileStore(t.TempDir())
	require.NoError(t, err)
	circuit := breaker.New("test", breaker.DefaultConfig(), t.TempDir(), nil)
	return New(webhookURL, store, toolLoop, delegator, circuit, nil, nil, t.TempDir(), nil, nil)
}

func decodeBody(t *testing.T, r *http.Request) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func TestDispatch_PlainFinalTextExtraction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"output":"the answer is 42"}`))
	}))
	defer server.Close()

	d := newTestDispatcher(t, server.URL, toolloop.New(), nil)
	text, err := d.Dispatch(context.Background(), Payload{Prompt: "what is the answer", SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "the answer is 42", text)
}

func TestDispatch_DraftSummaryGetsReviewBanner(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"action":"draft_summary","draft":"quarterly numbers look fine"}`))
	}))
	defer server.Close()

	d := newTestDispatcher(t, server.URL, toolloop.New(), nil)
	text, err := d.Dispatch(context.Background(), Payload{Prompt: "draft the summary", SessionID: "s1"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, humanReviewBanner))
	assert.Contains(t, text, "quarterly numbers look fine")
}

func TestDispatch_UseToolRecursesThenReturnsFinalAnswer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		if strings.Contains(body["prompt"], "OBSERVATION") {
			w.Write([]byte(`{"output":"files are a.go and b.go"}`))
			return
		}
		w.Write([]byte(`{"action":"use_tool","tool":"list_files","query":{}}`))
	}))
	defer server.Close()

	loop := toolloop.New()
	loop.Register("list_files", func(ctx context.Context, args map[string]interface{}) (string, error) {
		return "a.go, b.go", nil
	})

	d := newTestDispatcher(t, server.URL, loop, nil)
	text, err := d.Dispatch(context.Background(), Payload{Prompt: "list the files", SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "files are a.go and b.go", text)
}

func TestDispatch_DelegateTaskRecursesThenReturnsFinalAnswer(t *testing.T) {
	agentServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"output":"researched and done"}`))
	}))
	defer agentServer.Close()

	bridgeServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		if strings.Contains(body["prompt"], "DELEGATION_RESULT") {
			w.Write([]byte(`{"output":"final combined answer"}`))
			return
		}
		w.Write([]byte(`{"action":"delegate_task","recipient":"researcher","task":"look into it"}`))
	}))
	defer bridgeServer.Close()

	reg := registry.New(map[string]string{"researcher": agentServer.URL}, nil, nil)
	delegator := delegate.New(reg, nil)

	d := newTestDispatcher(t, bridgeServer.URL, toolloop.New(), delegator)
	text, err := d.Dispatch(context.Background(), Payload{Prompt: "research this", SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "final combined answer", text)
}

func TestDispatch_CircuitOpenEndsInGracefulFailure(t *testing.T) {
	store, err := memory.NewLocalFileStore(t.TempDir())
	require.NoError(t, err)
	circuit := breaker.New("open-test", breaker.Config{FailureThreshold: 1, SuccessThreshold: 1, Cooldown: time.Hour}, t.TempDir(), nil)
	circuit.RecordFailure()
	require.Equal(t, breaker.StateOpen, circuit.State())

	d := New("http://127.0.0.1:0", store, toolloop.New(), nil, circuit, nil, nil, t.TempDir(), nil, nil)

	text, err := d.Dispatch(context.Background(), Payload{Prompt: "do anything", SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, gracefulFailure, text)
}

func TestInferProject_SanitizesAndTruncates(t *testing.T) {
	project, ok := inferProject("Project: My Cool Project!!\ncontinue working")
	require.True(t, ok)
	assert.Equal(t, "My_Cool_Project", project)
}

func TestInferProject_NoMarkerReturnsFalse(t *testing.T) {
	_, ok := inferProject("just do the thing")
	assert.False(t, ok)
}

func TestExtractText_FollowsKeyPriority(t *testing.T) {
	assert.Equal(t, "from output", extractText(map[string]interface{}{"output": "from output", "text": "from text"}))
	assert.Equal(t, "from text", extractText(map[string]interface{}{"text": "from text", "message": "from message"}))
}

package llmclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphabridge/runtime/internal/corelog"
)

func TestRequestMarshalsTripleFieldAliasing(t *testing.T) {
	data, err := json.Marshal(Request{Prompt: "hello", SessionID: "s1"})
	require.NoError(t, err)

	var out map[string]string
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "hello", out["prompt"])
	assert.Equal(t, "hello", out["chatInput"])
	assert.Equal(t, "hello", out["input"])
	assert.Equal(t, "s1", out["sessionId"])
}

func TestGenerateReturnsBodyOn2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "ping", body["prompt"])
		w.Write([]byte(`{"output":"pong"}`))
	}))
	defer server.Close()

	client := New(server.URL, nil, nil)
	out, err := client.Generate(context.Background(), Request{Prompt: "ping", SessionID: "s1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"output":"pong"}`, out)
}

func TestGenerateWrapsNon2xxAsTransientNetwork(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(server.URL, nil, nil)
	_, err := client.Generate(context.Background(), Request{Prompt: "ping"})
	require.Error(t, err)
	assert.ErrorIs(t, err, corelog.ErrTransientNetwork)
}

func TestGenerateWrapsTransportFailureAsTransientNetwork(t *testing.T) {
	client := New("http://127.0.0.1:0", nil, nil)
	_, err := client.Generate(context.Background(), Request{Prompt: "ping"})
	require.Error(t, err)
	assert.ErrorIs(t, err, corelog.ErrTransientNetwork)
}

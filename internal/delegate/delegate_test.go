package delegate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alphabridge/runtime/internal/registry"
)

func TestDelegateUnresolvableRoleReturnsSystemError(t *testing.T) {
	reg := registry.New(map[string]string{}, nil, nil)
	router := New(reg, nil)

	got := router.Delegate(context.Background(), "ghost", "sess1", "do it")
	assert.Contains(t, got, "SYSTEM_ERROR")
	assert.Contains(t, got, `role "ghost"`)
}

func TestDelegateSuccessTagsResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"output":"report drafted"}`))
	}))
	defer server.Close()

	reg := registry.New(map[string]string{"writer": server.URL}, nil, nil)
	router := New(reg, nil)

	got := router.Delegate(context.Background(), "writer", "sess1", "write a report")
	assert.Contains(t, got, "OBSERVATION FROM writer")
	assert.Contains(t, got, "DELEGATION_RESULT")
	assert.Contains(t, got, "report drafted")
}

func TestDelegateTransportFailureReturnsSystemError(t *testing.T) {
	reg := registry.New(map[string]string{"writer": "http://127.0.0.1:0"}, nil, nil)
	router := New(reg, nil)

	got := router.Delegate(context.Background(), "writer", "sess1", "write a report")
	assert.Contains(t, got, "SYSTEM_ERROR")
}

package toolloop

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInvokeKnownToolCaseInsensitive(t *testing.T) {
	loop := New()
	loop.Register("List_Files", func(ctx context.Context, args map[string]interface{}) (string, error) {
		return "a.go, b.go", nil
	})

	got := loop.Invoke(context.Background(), "list_files", nil)
	assert.Equal(t, "OBSERVATION: a.go, b.go", got)
}

func TestInvokeUnknownToolReturnsFixedObservation(t *testing.T) {
	loop := New()
	loop.Register("market_search", func(ctx context.Context, args map[string]interface{}) (string, error) {
		return "ok", nil
	})

	got := loop.Invoke(context.Background(), "not_a_tool", nil)
	assert.Contains(t, got, `unknown tool "not_a_tool"`)
	assert.Contains(t, got, "market_search")
}

func TestInvokeToolFailureIsWrapped(t *testing.T) {
	loop := New()
	loop.Register("write_file", func(ctx context.Context, args map[string]interface{}) (string, error) {
		return "", fmt.Errorf("disk full")
	})

	got := loop.Invoke(context.Background(), "write_file", nil)
	assert.Contains(t, got, `tool "write_file" failed: disk full`)
}

func TestRegisterDefaultsOnlyRegistersNonNilHandlers(t *testing.T) {
	loop := New()
	loop.RegisterDefaults(Handlers{
		ListFiles: func(ctx context.Context, args map[string]interface{}) (string, error) {
			return "listed", nil
		},
	})

	names := loop.Names()
	assert.Contains(t, names, "list_files")
	assert.NotContains(t, names, "market_search")
}

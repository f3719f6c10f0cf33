package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFileStore_AppendAndRecent(t *testing.T) {
	store, err := NewLocalFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.AppendTurn(ctx, "sess1", Turn{Role: "user", Content: fmt.Sprintf("turn %d", i)}))
	}

	turns, err := store.RecentTurns(ctx, "sess1", 2)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "turn 1", turns[0].Content)
	assert.Equal(t, "turn 2", turns[1].Content)
}

func TestLocalFileStore_RecentTurnsUnknownSessionIsEmpty(t *testing.T) {
	store, err := NewLocalFileStore(t.TempDir())
	require.NoError(t, err)
	turns, err := store.RecentTurns(context.Background(), "unknown", 5)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestLocalFileStore_Clear(t *testing.T) {
	store, err := NewLocalFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.AppendTurn(ctx, "sess1", Turn{Role: "user", Content: "hi"}))
	require.NoError(t, store.Clear(ctx, "sess1"))

	turns, err := store.RecentTurns(ctx, "sess1", 5)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

type failingStore struct{}

func (failingStore) AppendTurn(context.Context, string, Turn) error { return fmt.Errorf("remote down") }
func (failingStore) RecentTurns(context.Context, string, int) ([]Turn, error) {
	return nil, fmt.Errorf("remote down")
}
func (failingStore) Clear(context.Context, string) error { return fmt.Errorf("remote down") }

func TestFallbackStore_DegradesToLocalOnRemoteFailure(t *testing.T) {
	local, err := NewLocalFileStore(t.TempDir())
	require.NoError(t, err)
	fb := NewFallbackStore(failingStore{}, local, nil)
	ctx := context.Background()

	require.NoError(t, fb.AppendTurn(ctx, "sess1", Turn{Role: "user", Content: "hello"}))
	turns, err := fb.RecentTurns(ctx, "sess1", 5)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "hello", turns[0].Content)
}

type succeedingStore struct{ turns []Turn }

func (s *succeedingStore) AppendTurn(_ context.Context, _ string, turn Turn) error {
	s.turns = append(s.turns, turn)
	return nil
}
func (s *succeedingStore) RecentTurns(context.Context, string, int) ([]Turn, error) {
	return s.turns, nil
}
func (s *succeedingStore) Clear(context.Context, string) error {
	s.turns = nil
	return nil
}

func TestFallbackStore_PrefersRemoteWhenHealthy(t *testing.T) {
	local, err := NewLocalFileStore(t.TempDir())
	require.NoError(t, err)
	remote := &succeedingStore{}
	fb := NewFallbackStore(remote, local, nil)
	ctx := context.Background()

	require.NoError(t, fb.AppendTurn(ctx, "sess1", Turn{Role: "user", Content: "via remote"}))
	localTurns, err := local.RecentTurns(ctx, "sess1", 5)
	require.NoError(t, err)
	assert.Empty(t, localTurns)

	remoteTurns, err := fb.RecentTurns(ctx, "sess1", 5)
	require.NoError(t, err)
	require.Len(t, remoteTurns, 1)
	assert.Equal(t, "via remote", remoteTurns[0].Content)
}

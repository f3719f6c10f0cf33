package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphabridge/runtime/internal/corelog"
)

func TestResolveKnownRole(t *testing.T) {
	reg := New(map[string]string{"researcher": "http://researcher.local"}, nil, nil)
	info, err := reg.Resolve("researcher")
	require.NoError(t, err)
	assert.Equal(t, "http://researcher.local", info.URL)
	assert.True(t, info.Healthy)
}

func TestResolveUnknownRoleIsUnknownAgent(t *testing.T) {
	reg := New(map[string]string{}, nil, nil)
	_, err := reg.Resolve("ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, corelog.ErrUnknownAgent)
}

func TestAllReturnsEverySeededAgent(t *testing.T) {
	reg := New(map[string]string{"a": "http://a", "b": "http://b"}, nil, nil)
	assert.Len(t, reg.All(), 2)
}

func TestSetHealthUpdatesExistingRole(t *testing.T) {
	reg := New(map[string]string{"a": "http://a"}, nil, nil)
	reg.SetHealth("a", false)
	info, err := reg.Resolve("a")
	require.NoError(t, err)
	assert.False(t, info.Healthy)
	assert.False(t, info.LastSeen.IsZero())
}

func TestSetHealthIgnoresUnknownRole(t *testing.T) {
	reg := New(map[string]string{}, nil, nil)
	reg.SetHealth("ghost", false)
	assert.Empty(t, reg.All())
}

func TestHeartbeatAndRefreshAreNoOpsWithoutRedis(t *testing.T) {
	reg := New(map[string]string{"a": "http://a"}, nil, nil)
	require.NoError(t, reg.Heartbeat(context.Background(), "a", time.Minute))
	require.NoError(t, reg.RefreshFromRedis(context.Background()))
}

package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingToggler struct {
	mu        sync.Mutex
	activated []string
	failOn    map[string]bool
}

func (r *recordingToggler) Activate(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn[id] {
		return fmt.Errorf("activate failed for %s", id)
	}
	r.activated = append(r.activated, id)
	return nil
}

func (r *recordingToggler) Deactivate(ctx context.Context, id string) error {
	return r.Activate(ctx, id)
}

func TestActivateSequencesThroughGroup(t *testing.T) {
	toggler := &recordingToggler{failOn: map[string]bool{}}
	groups := map[string][]string{"alpha": {"wf-1", "wf-2"}}
	manager := New(toggler, groups, nil)

	failures := manager.Activate(context.Background(), "alpha")
	assert.Equal(t, 0, failures)
	assert.Equal(t, []string{"wf-1", "wf-2"}, toggler.activated)
}

func TestActivateCountsFailuresWithoutStopping(t *testing.T) {
	toggler := &recordingToggler{failOn: map[string]bool{"wf-1": true}}
	groups := map[string][]string{"alpha": {"wf-1", "wf-2"}}
	manager := New(toggler, groups, nil)

	failures := manager.Activate(context.Background(), "alpha")
	assert.Equal(t, 1, failures)
	assert.Equal(t, []string{"wf-2"}, toggler.activated)
}

func TestUnknownGroupIsANoOp(t *testing.T) {
	toggler := &recordingToggler{failOn: map[string]bool{}}
	manager := New(toggler, map[string][]string{}, nil)
	failures := manager.Activate(context.Background(), "ghost")
	assert.Equal(t, 0, failures)
}

func TestRecoverAndDeactivateRunsOnPanic(t *testing.T) {
	toggler := &recordingToggler{failOn: map[string]bool{}}
	groups := map[string][]string{"alpha": {"wf-1"}}
	manager := New(toggler, groups, nil)

	func() {
		defer func() {
			r := recover()
			require.NotNil(t, r)
		}()
		defer manager.RecoverAndDeactivate(context.Background(), "alpha")
		panic("boom")
	}()

	assert.Equal(t, []string{"wf-1"}, toggler.activated)
}

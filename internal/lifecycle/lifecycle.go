// Package lifecycle implements sequential activation of a named group
// of remote workflows on start, and guaranteed deactivation on
// shutdown — normal exit, panic, or SIGINT/SIGTERM.
package lifecycle

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/alphabridge/runtime/internal/corelog"
)

const toggleSpacing = 300 * time.Millisecond

// Toggler performs one workflow's activate/deactivate call.
type Toggler interface {
	Activate(ctx context.Context, workflowID string) error
	Deactivate(ctx context.Context, workflowID string) error
}

// HTTPToggler is the production Toggler, POSTing to the automation
// provider's activate/deactivate endpoints.
type HTTPToggler struct {
	httpClient *http.Client
	baseURL    string
}

// NewHTTPToggler builds an HTTPToggler against baseURL.
func NewHTTPToggler(baseURL string) *HTTPToggler {
	return &HTTPToggler{httpClient: &http.Client{Timeout: 15 * time.Second}, baseURL: strings.TrimRight(baseURL, "/")}
}

func (t *HTTPToggler) toggle(ctx context.Context, workflowID, verb string) error {
	url := fmt.Sprintf("%s/api/v1/workflows/%s/%s", t.baseURL, workflowID, verb)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("building %s request: %w", verb, err)
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s endpoint: %w", verb, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s endpoint returned status %d", verb, resp.StatusCode)
	}
	return nil
}

func (t *HTTPToggler) Activate(ctx context.Context, workflowID string) error {
	return t.toggle(ctx, workflowID, "activate")
}

func (t *HTTPToggler) Deactivate(ctx context.Context, workflowID string) error {
	return t.toggle(ctx, workflowID, "deactivate")
}

// Manager holds a map of named groups of workflow IDs and toggles them.
// Registering shutdown hooks is idempotent: at most one signal handler
// is installed per Manager.
type Manager struct {
	mu sync.Mutex

	toggler Toggler
	logger  corelog.Logger
	groups  map[string][]string

	hooksInstalled bool
	sigChan        chan os.Signal
	done           chan struct{}
}

// New builds a Manager. groups maps a group name (e.g. "alpha", "meta",
// "all") to its ordered workflow ID list.
func New(toggler Toggler, groups map[string][]string, logger corelog.Logger) *Manager {
	if logger == nil {
		logger = corelog.NoOpLogger{}
	}
	return &Manager{toggler: toggler, groups: groups, logger: logger}
}

// Activate sequentially activates every workflow in group, 0.3s apart.
// It returns the count of failures; a non-zero count means partial
// success.
func (m *Manager) Activate(ctx context.Context, group string) (failures int) {
	return m.toggleGroup(ctx, group, m.toggler.Activate, "activate")
}

// Deactivate sequentially deactivates every workflow in group.
func (m *Manager) Deactivate(ctx context.Context, group string) (failures int) {
	return m.toggleGroup(ctx, group, m.toggler.Deactivate, "deactivate")
}

func (m *Manager) toggleGroup(ctx context.Context, group string, fn func(context.Context, string) error, verb string) int {
	ids := m.groups[group]
	failures := 0
	for i, id := range ids {
		if err := fn(ctx, id); err != nil {
			failures++
			m.logger.Error("lifecycle toggle failed", map[string]interface{}{
				"operation": verb,
				"group":     group,
				"workflow":  id,
				"error":     err.Error(),
			})
		}
		if i < len(ids)-1 {
			time.Sleep(toggleSpacing)
		}
	}
	return failures
}

// RegisterShutdownHooks installs a SIGINT/SIGTERM handler that
// deactivates `group`. It installs no panic handler; panic coverage comes
// from the caller deferring RecoverAndDeactivate. Calling it more than
// once is a no-op.
func (m *Manager) RegisterShutdownHooks(group string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hooksInstalled {
		return
	}
	m.hooksInstalled = true

	m.sigChan = make(chan os.Signal, 1)
	m.done = make(chan struct{})
	signal.Notify(m.sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-m.sigChan:
			m.logger.Info("lifecycle: shutdown signal received", map[string]interface{}{"signal": sig.String()})
			m.Deactivate(context.Background(), group)
		case <-m.done:
		}
	}()
}

// Shutdown runs deactivation on a normal exit path (e.g. deferred in
// main), signaling the signal-watcher goroutine to stand down.
func (m *Manager) Shutdown(ctx context.Context, group string) {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done != nil {
		select {
		case done <- struct{}{}:
		default:
		}
	}
	m.Deactivate(ctx, group)
}

// RecoverAndDeactivate is meant to be deferred at the top of main: on an
// unrecovered panic it deactivates group before re-panicking.
func (m *Manager) RecoverAndDeactivate(ctx context.Context, group string) {
	if r := recover(); r != nil {
		m.logger.Error("lifecycle: deactivating on panic", map[string]interface{}{"panic": fmt.Sprintf("%v", r)})
		m.Deactivate(ctx, group)
		panic(r)
	}
}

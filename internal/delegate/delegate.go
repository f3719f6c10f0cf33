// Package delegate resolves a `delegate_task` directive's role through
// the agent registry and forwards the task to that role's webhook
// under a bounded timeout, tagging the result for the calling dispatch
// turn. An unresolvable role gets a SYSTEM_ERROR fallback rather than
// a pipeline error.
package delegate

import (
	"context"
	"fmt"
	"time"

	"github.com/alphabridge/runtime/internal/corelog"
	"github.com/alphabridge/runtime/internal/llmclient"
	"github.com/alphabridge/runtime/internal/registry"
)

// timeout bounds a single delegation round-trip.
const timeout = 120 * time.Second

// Router forwards delegate_task directives to the role's registered
// webhook via an llmclient.Client built per-call against the resolved URL.
type Router struct {
	reg    *registry.Registry
	logger corelog.Logger
}

// New builds a Router against reg.
func New(reg *registry.Registry, logger corelog.Logger) *Router {
	if logger == nil {
		logger = corelog.NoOpLogger{}
	}
	return &Router{reg: reg, logger: logger}
}

// Delegate resolves role, calls its webhook with task under a 120s
// timeout, and returns a tagged observation string. Delegation failures
// are surfaced to the model as an observation, not raised as a pipeline
// error, so the dispatcher's conversation loop can continue.
func (r *Router) Delegate(ctx context.Context, role, sessionID, task string) string {
	info, err := r.reg.Resolve(role)
	if err != nil {
		r.logger.Warn("delegation target unresolvable", map[string]interface{}{
			"operation": "delegate_task",
			"role":      role,
			"error":     err.Error(),
		})
		return fmt.Sprintf("SYSTEM_ERROR: no agent registered for role %q", role)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client := llmclient.New(info.URL, r.logger, nil)
	result, err := client.Generate(ctx, llmclient.Request{Prompt: task, SessionID: sessionID})
	if err != nil {
		r.logger.Warn("delegation call failed", map[string]interface{}{
			"operation": "delegate_task",
			"role":      role,
			"error":     err.Error(),
		})
		return fmt.Sprintf("SYSTEM_ERROR: delegation to role %q failed: %s", role, err.Error())
	}

	return fmt.Sprintf("OBSERVATION FROM %s\nDELEGATION_RESULT: %s", role, result)
}

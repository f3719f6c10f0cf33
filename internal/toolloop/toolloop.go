// Package toolloop implements a fixed set of named tools the Bridge
// Dispatcher's response interpretation step can invoke via a `use_tool`
// directive, each returning an observation string that gets fed back
// into the next dispatch turn. Tools resolve by name case-insensitively
// against a name->handler map, with a structured "unknown tool"
// response rather than an error.
package toolloop

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Tool is one invocable capability. It receives the raw argument payload
// the model supplied and returns an observation string.
type Tool func(ctx context.Context, args map[string]interface{}) (string, error)

// Loop holds the registered tool set and dispatches by name.
type Loop struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// New builds a Loop with no tools registered; call Register for each one.
func New() *Loop {
	return &Loop{tools: map[string]Tool{}}
}

// Register adds or replaces a tool under name, matched case-insensitively
// at dispatch time.
func (l *Loop) Register(name string, tool Tool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tools[strings.ToLower(name)] = tool
}

// Names returns every registered tool name.
func (l *Loop) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.tools))
	for n := range l.tools {
		names = append(names, n)
	}
	return names
}

// Invoke dispatches name (case-insensitively) with args. An unregistered
// tool is not an error: it produces a fixed "unknown tool" observation
// telling the model the tool does not exist, so the dispatcher's
// conversation can continue rather than the dispatch pipeline failing.
func (l *Loop) Invoke(ctx context.Context, name string, args map[string]interface{}) string {
	l.mu.RLock()
	tool, ok := l.tools[strings.ToLower(name)]
	l.mu.RUnlock()
	if !ok {
		return fmt.Sprintf("OBSERVATION: unknown tool %q. Available tools: %s", name, strings.Join(l.Names(), ", "))
	}

	result, err := tool(ctx, args)
	if err != nil {
		return fmt.Sprintf("OBSERVATION: tool %q failed: %s", name, err.Error())
	}
	return fmt.Sprintf("OBSERVATION: %s", result)
}

// Handlers wires the named tool set onto a Loop: list_files,
// market_search, vector_memory, google_workspace, financial_model,
// produce_document, write_file, modify_code. Each backing function is
// supplied by the caller so host-specific I/O (filesystem roots, API
// credentials) stays outside this package.
type Handlers struct {
	ListFiles       Tool
	MarketSearch    Tool
	VectorMemory    Tool
	GoogleWorkspace Tool
	FinancialModel  Tool
	ProduceDocument Tool
	WriteFile       Tool
	ModifyCode      Tool
}

// RegisterDefaults registers every non-nil handler in h under its tool
// name.
func (l *Loop) RegisterDefaults(h Handlers) {
	register := func(name string, t Tool) {
		if t != nil {
			l.Register(name, t)
		}
	}
	register("list_files", h.ListFiles)
	register("market_search", h.MarketSearch)
	register("vector_memory", h.VectorMemory)
	register("google_workspace", h.GoogleWorkspace)
	register("financial_model", h.FinancialModel)
	register("produce_document", h.ProduceDocument)
	register("write_file", h.WriteFile)
	register("modify_code", h.ModifyCode)
}

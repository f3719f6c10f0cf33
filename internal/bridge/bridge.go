// Package bridge implements the single entrypoint for any inbound
// request: enriching a prompt with session memory and a
// tool-awareness preamble, calling the primary LLM webhook with retry,
// and interpreting the response into either final text, a tool
// dispatch, or a delegation — recursing until a final answer is
// reached.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/alphabridge/runtime/internal/breaker"
	"github.com/alphabridge/runtime/internal/corelog"
	"github.com/alphabridge/runtime/internal/delegate"
	"github.com/alphabridge/runtime/internal/llmclient"
	"github.com/alphabridge/runtime/internal/memory"
	"github.com/alphabridge/runtime/internal/sanitizer"
	"github.com/alphabridge/runtime/internal/telemetry"
	"github.com/alphabridge/runtime/internal/toolloop"
)

const (
	maxAttempts       = 3
	retryBackoff      = 3 * time.Second
	delegationTag     = "DELEGATION_RESULT"
	toolResultTag     = "TOOL_RESULT"
	healedTag         = "HEALED"
	sentryRecoveryTag = "SENTRY_RECOVERY"
	gracefulFailure   = "Graceful Failure: the request could not be completed after repeated attempts."
)

var transientStatus = map[int]bool{500: true, 502: true, 503: true, 504: true, 404: true}

var visionTriggerPhrases = []string{
	"execute the plan", "run the plan", "proceed with execution", "begin execution",
}

var projectMarker = regexp.MustCompile(`Project:?\s+([^\n:]+)`)

// Payload is one inbound dispatch request.
type Payload struct {
	Prompt       string
	ProjectName  string
	Context      string
	SuiteCommand bool
	CleanSlate   bool
	SessionID    string
	ForceTool    *ToolDirective
}

// ToolDirective is a pre-decoded tool call bypassing the LLM.
type ToolDirective struct {
	Tool string
	Args map[string]interface{}
}

// WorkspaceHook is notified when the inferred project changes, giving
// an external workspace-initialization collaborator a chance to react.
type WorkspaceHook func(ctx context.Context, project string) error

// Dispatcher is the Bridge's single entrypoint.
type Dispatcher struct {
	mu sync.RWMutex

	webhookURL string
	client     *llmclient.Client

	memoryStore memory.Store
	toolLoop    *toolloop.Loop
	delegator   *delegate.Router
	circuit     *breaker.Breaker
	healer      *Healer
	workspace   WorkspaceHook
	logger      corelog.Logger
	telemetry   telemetry.Telemetry

	appRoot      string
	promptCache  []string
	lastProject  string
	cacheMu      sync.Mutex
}

// New builds a Dispatcher. appRoot anchors project inference and the
// vision-injection file-tree snapshot.
func New(webhookURL string, store memory.Store, toolLoop *toolloop.Loop, delegator *delegate.Router, circuit *breaker.Breaker, healer *Healer, workspace WorkspaceHook, appRoot string, logger corelog.Logger, tel telemetry.Telemetry) *Dispatcher {
	if logger == nil {
		logger = corelog.NoOpLogger{}
	}
	if tel == nil {
		tel = telemetry.NoOp{}
	}
	return &Dispatcher{
		webhookURL:  webhookURL,
		client:      llmclient.New(webhookURL, logger, tel),
		memoryStore: store,
		toolLoop:    toolLoop,
		delegator:   delegator,
		circuit:     circuit,
		healer:      healer,
		workspace:   workspace,
		appRoot:     appRoot,
		logger:      logger,
		telemetry:   tel,
	}
}

func (d *Dispatcher) activeWebhook() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.webhookURL
}

func (d *Dispatcher) setWebhook(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.webhookURL = url
	d.client = llmclient.New(url, d.logger, d.telemetry)
}

// Dispatch runs the nine-step pipeline and returns final text, or an
// error-prefixed string on exhausted recovery.
func (d *Dispatcher) Dispatch(ctx context.Context, payload Payload) (string, error) {
	ctx, span := d.telemetry.StartSpan(ctx, "bridge.dispatch")
	defer span.End()
	span.SetAttribute("bridge.session_id", payload.SessionID)

	// Step 1: prompt cache (user-initiated requests only).
	if payload.Context == "" {
		d.cachePrompt(payload.Prompt)
	}

	// Step 2/3: project inference and switch hook.
	if project, ok := inferProject(payload.Prompt); ok {
		d.maybeSwitchProject(ctx, project)
		payload.ProjectName = project
	}

	// Step 4: context assembly.
	history, _ := d.memoryStore.RecentTurns(ctx, payload.SessionID, 0)
	enrichedPrompt := d.assembleContext(payload, history)

	// Step 5: optimistic history write.
	if err := d.memoryStore.AppendTurn(ctx, payload.SessionID, memory.Turn{
		Role: "user", Content: payload.Prompt, Timestamp: time.Now().UTC(),
	}); err != nil {
		d.logger.Warn("bridge: optimistic history write failed", map[string]interface{}{"error": err.Error()})
	}

	// Step 6: vision injection.
	if containsAny(payload.Prompt, visionTriggerPhrases) {
		enrichedPrompt = d.fileTreeSnapshot() + "\n\n" + enrichedPrompt
	}

	if payload.ForceTool != nil {
		observation := d.toolLoop.Invoke(ctx, payload.ForceTool.Tool, payload.ForceTool.Args)
		return d.Dispatch(ctx, reprompt(payload, observation, toolResultTag))
	}

	// Step 7: network call with retry.
	raw, err := d.callWithRetry(ctx, enrichedPrompt, payload.SessionID)
	if err != nil {
		return d.handleFailure(ctx, payload, err)
	}

	decoded, _ := sanitizer.Sanitize(raw)

	// Step 8: response interpretation.
	text, recurse := d.interpret(ctx, payload, decoded)
	if recurse != nil {
		return d.Dispatch(ctx, *recurse)
	}

	// Step 9: post-write.
	if err := d.memoryStore.AppendTurn(ctx, payload.SessionID, memory.Turn{
		Role: "assistant", Content: text, Timestamp: time.Now().UTC(),
	}); err != nil {
		d.logger.Warn("bridge: assistant turn write failed", map[string]interface{}{"error": err.Error()})
	}
	return text, nil
}

func reprompt(orig Payload, prompt, tag string) Payload {
	next := orig
	next.Prompt = prompt
	next.Context = tag
	next.ForceTool = nil
	return next
}

func (d *Dispatcher) cachePrompt(prompt string) {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	d.promptCache = append(d.promptCache, prompt)
	if len(d.promptCache) > 5 {
		d.promptCache = d.promptCache[len(d.promptCache)-5:]
	}
}

func (d *Dispatcher) lastCachedPrompt() string {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	if len(d.promptCache) == 0 {
		return ""
	}
	return d.promptCache[len(d.promptCache)-1]
}

func inferProject(prompt string) (string, bool) {
	match := projectMarker.FindStringSubmatch(prompt)
	if match == nil {
		return "", false
	}
	name := strings.TrimSpace(match[1])
	name = strings.ReplaceAll(name, " ", "_")
	name = sanitizeFilenameToken(name)
	if name == "" {
		return "", false
	}
	if len(name) > 64 {
		name = name[:64]
	}
	return name, true
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

func sanitizeFilenameToken(s string) string {
	return unsafeFilenameChars.ReplaceAllString(s, "")
}

func (d *Dispatcher) maybeSwitchProject(ctx context.Context, project string) {
	d.cacheMu.Lock()
	changed := project != d.lastProject
	d.lastProject = project
	d.cacheMu.Unlock()

	if !changed {
		return
	}
	if err := d.memoryStore.Clear(ctx, project); err != nil {
		d.logger.Warn("bridge: session clear on project switch failed", map[string]interface{}{"error": err.Error()})
	}
	if d.workspace != nil {
		if err := d.workspace(ctx, project); err != nil {
			d.logger.Warn("bridge: workspace initialization hook failed", map[string]interface{}{"project": project, "error": err.Error()})
		}
	}
}

const toolAwarenessPreamble = `You may respond with a JSON object. To use a tool, respond {"action":"use_tool","tool":"<name>","query":<args>}. To delegate, respond {"action":"delegate_task","recipient":"<role>","task":"<text>"}. Otherwise respond with your final answer under an "output" key.`

func (d *Dispatcher) assembleContext(payload Payload, history []memory.Turn) string {
	var b strings.Builder

	if payload.CleanSlate {
		b.WriteString(toolAwarenessPreamble)
		b.WriteString("\n\n")
		b.WriteString(payload.Prompt)
		return b.String()
	}

	if payload.SuiteCommand {
		b.WriteString("[OVERRIDE CONTEXT]\n")
	}

	for _, turn := range history {
		fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
	}
	b.WriteString(toolAwarenessPreamble)
	b.WriteString("\n\n")
	b.WriteString(payload.Prompt)
	return b.String()
}

func containsAny(haystack string, needles []string) bool {
	lower := strings.ToLower(haystack)
	for _, n := range needles {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return false
}

func (d *Dispatcher) fileTreeSnapshot() string {
	var b strings.Builder
	b.WriteString("[FILE TREE SNAPSHOT]\n")
	_ = filepath.Walk(d.appRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil || d.appRoot == "" {
			return nil
		}
		rel, relErr := filepath.Rel(d.appRoot, path)
		if relErr != nil || rel == "." {
			return nil
		}
		b.WriteString(rel + "\n")
		return nil
	})
	return b.String()
}

// callWithRetry implements step 7: up to 3 attempts, 3s linear backoff,
// transient status codes retried, all runs mediated by the Circuit
// Breaker.
func (d *Dispatcher) callWithRetry(ctx context.Context, prompt, sessionID string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if !d.circuit.CanCall() {
			return "", fmt.Errorf("dispatch attempt %d: %w", attempt, corelog.ErrCircuitOpen)
		}

		raw, err := d.client.Generate(ctx, llmclient.Request{Prompt: prompt, SessionID: sessionID})
		if err == nil {
			d.circuit.RecordSuccess()
			return raw, nil
		}

		d.circuit.RecordFailure()
		lastErr = err
		if !isTransientFailure(err) {
			break
		}
		if attempt < maxAttempts {
			time.Sleep(retryBackoff)
		}
	}
	return "", lastErr
}

func isTransientFailure(err error) bool {
	if corelog.IsTransient(err) {
		return true
	}
	for code := range transientStatus {
		if strings.Contains(err.Error(), fmt.Sprintf("status %d", code)) {
			return true
		}
	}
	return false
}

var responseKeyPriority = []string{"output", "text", "message", "chatOutput", "response", "answer"}

func extractText(obj map[string]interface{}) string {
	for _, key := range responseKeyPriority {
		if v, ok := obj[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	data, _ := json.Marshal(obj)
	return string(data)
}

const humanReviewBanner = "[DRAFT - PENDING HUMAN REVIEW]\n\n"

// interpret dispatches on the decoded response's action discriminator.
// It returns final text with recurse=nil, or a non-nil recurse payload
// for the caller to re-dispatch.
func (d *Dispatcher) interpret(ctx context.Context, payload Payload, decoded map[string]interface{}) (string, *Payload) {
	action, _ := decoded["action"].(string)

	switch action {
	case "draft_summary":
		draft, _ := decoded["draft"].(string)
		if draft == "" {
			draft = extractText(decoded)
		}
		return humanReviewBanner + draft, nil

	case "use_tool":
		tool, _ := decoded["tool"].(string)
		args := toolArgs(decoded["query"])
		observation := d.toolLoop.Invoke(ctx, tool, args)
		next := reprompt(payload, observation, toolResultTag)
		return "", &next

	case "delegate_task":
		recipient, _ := decoded["recipient"].(string)
		task, _ := decoded["task"].(string)
		observation := d.delegator.Delegate(ctx, recipient, payload.SessionID, task)
		next := reprompt(payload, observation, delegationTag)
		return "", &next

	default:
		return extractText(decoded), nil
	}
}

func toolArgs(query interface{}) map[string]interface{} {
	switch v := query.(type) {
	case map[string]interface{}:
		return v
	case string:
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(v), &obj); err == nil {
			return obj
		}
		return map[string]interface{}{"query": v}
	default:
		return map[string]interface{}{}
	}
}

// handleFailure implements the dispatch failure cascade: healing on
// connection-class errors not yet HEALED, sentry recovery on anything
// else not yet in RECOVERY, and graceful failure once both are
// exhausted.
func (d *Dispatcher) handleFailure(ctx context.Context, payload Payload, cause error) (string, error) {
	isConnectionClass := corelog.IsTransient(cause) || strings.Contains(strings.ToLower(cause.Error()), "circuit")

	if isConnectionClass && !strings.Contains(payload.Context, healedTag) && d.healer != nil {
		if url, ok := d.healer.Heal(ctx); ok {
			d.setWebhook(url)
			next := payload
			next.Context = strings.TrimSpace(payload.Context + " " + healedTag)
			return d.Dispatch(ctx, next)
		}
	}

	if !strings.Contains(payload.Context, "RECOVERY") {
		sentryPrompt := fmt.Sprintf("A prior request failed.\nOriginal prompt: %s\nError: %s\nRecover and continue.",
			d.lastCachedPrompt(), cause.Error())
		next := reprompt(payload, sentryPrompt, sentryRecoveryTag)
		return d.Dispatch(ctx, next)
	}

	d.logger.Error("bridge: exhausted recovery, returning graceful failure", map[string]interface{}{
		"operation": "dispatch_failure",
		"error":     cause.Error(),
	})
	return gracefulFailure, nil
}

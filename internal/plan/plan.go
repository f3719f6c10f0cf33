// Package plan implements parsing an LLM response into an ActionPlan,
// revising it against user feedback, executing its steps against a
// caller, detecting artifacts, and rendering a Mission Report. Plans are
// a flat ordered step list rather than a dependency graph, with
// pause/cancel/skip controls.
package plan

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RiskLevel classifies how much caution a step warrants.
type RiskLevel string

const (
	RiskSafe     RiskLevel = "safe"
	RiskCaution  RiskLevel = "caution"
	RiskCritical RiskLevel = "critical"
)

// StepStatus is one PlanStep's lifecycle state.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepRunning StepStatus = "running"
	StepDone    StepStatus = "done"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// PlanStatus is an ActionPlan's lifecycle state: draft and reviewing
// loop until approved, then executing ends in complete or failed, and
// finalized closes the plan out.
type PlanStatus string

const (
	PlanDraft     PlanStatus = "draft"
	PlanReviewing PlanStatus = "reviewing"
	PlanApproved  PlanStatus = "approved"
	PlanExecuting PlanStatus = "executing"
	PlanComplete  PlanStatus = "complete"
	PlanFailed    PlanStatus = "failed"
	PlanFinalized PlanStatus = "finalized"
)

// PlanStep is one unit of work within an ActionPlan.
type PlanStep struct {
	StepNumber     int        `json:"step_number"`
	Agent          string     `json:"agent"`
	Description    string     `json:"description"`
	RiskLevel      RiskLevel  `json:"risk_level"`
	Tools          []string   `json:"tools,omitempty"`
	ReferenceCode  string     `json:"reference_code,omitempty"`
	Status         StepStatus `json:"status"`
	Output         string     `json:"output,omitempty"`
	Error          string     `json:"error,omitempty"`
	UserNotes      string     `json:"user_notes,omitempty"`
	TriadNotes     string     `json:"triad_notes,omitempty"`
	ElapsedSeconds float64    `json:"elapsed_seconds"`
	Skipped        bool       `json:"skipped"`
	PauseAfter     bool       `json:"pause_after"`
}

// ActionPlan is a full ordered plan.
type ActionPlan struct {
	mu sync.Mutex

	ID              string       `json:"id"`
	Task            string       `json:"task"`
	Steps           []*PlanStep  `json:"steps"`
	Status          PlanStatus   `json:"status"`
	RevisionCount   int          `json:"revision_count"`
	RevisionHistory [][]PlanStep `json:"revision_history,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	Artifacts       []string     `json:"artifacts,omitempty"`
	Paused          bool         `json:"paused"`
	Cancel          bool         `json:"cancel"`
}

var canonicalAgents = map[string]string{
	"planner": "planner", "generic": "generic",
	"cfo": "CFO", "cmo": "CMO", "cto": "CTO", "coo": "COO", "ceo": "CEO",
	"researcher": "researcher", "writer": "writer", "analyst": "analyst",
	"engineer": "engineer", "designer": "designer",
}

func normalizeAgent(raw string) string {
	if canon, ok := canonicalAgents[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return canon
	}
	return raw
}

var (
	criticalKeywords = []string{"deploy", "delete", "remove", "execute", "production", "docker", "push"}
	cautionKeywords  = []string{"write", "create", "generate", "modify", "update", "code", "script", "file"}
	cautionTools     = map[string]bool{"write_file": true, "modify_code": true, "produce_document": true}
)

func classifyRisk(description string, tools []string) RiskLevel {
	lower := strings.ToLower(description)
	for _, kw := range criticalKeywords {
		if strings.Contains(lower, kw) {
			return RiskCritical
		}
	}
	for _, kw := range cautionKeywords {
		if strings.Contains(lower, kw) {
			return RiskCaution
		}
	}
	for _, t := range tools {
		if cautionTools[strings.ToLower(t)] {
			return RiskCaution
		}
	}
	return RiskSafe
}

// rawStep is the tolerant on-wire shape parsed from an LLM response,
// before risk classification and agent normalization.
type rawStep struct {
	Agent          string          `json:"agent"`
	Description    string          `json:"description"`
	Action         string          `json:"action"`
	Details        string          `json:"details"`
	Tools          []string        `json:"tools"`
	ReferenceCode  string          `json:"reference_code"`
	ExpectedOutput *expectedOutput `json:"expected_output"`
}

type expectedOutput struct {
	Tasks []rawStep `json:"tasks"`
}

type rawPlan struct {
	Steps []rawStep `json:"steps"`
}

// Parse builds an ActionPlan from an LLM response and the original task.
// Returns (nil, false) if no plan-shaped JSON can be recovered; callers
// should fall back to treating the response as plain text.
func Parse(task, response string, sanitize func(string) (map[string]interface{}, bool)) (*ActionPlan, bool) {
	obj, ok := sanitize(response)
	if !ok {
		return nil, false
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, false
	}
	var rp rawPlan
	if err := json.Unmarshal(data, &rp); err != nil || len(rp.Steps) == 0 {
		return nil, false
	}

	expanded := expandSteps(rp.Steps)
	steps := make([]*PlanStep, 0, len(expanded))
	for i, rs := range expanded {
		steps = append(steps, &PlanStep{
			StepNumber:    i + 1,
			Agent:         normalizeAgent(rs.Agent),
			Description:   firstNonEmpty(rs.Description, rs.Action, rs.Details),
			RiskLevel:     classifyRisk(firstNonEmpty(rs.Description, rs.Action, rs.Details), rs.Tools),
			Tools:         rs.Tools,
			ReferenceCode: rs.ReferenceCode,
			Status:        StepPending,
		})
	}

	return &ActionPlan{
		ID:        uuid.NewString(),
		Task:      task,
		Steps:     steps,
		Status:    PlanDraft,
		CreatedAt: time.Now().UTC(),
	}, true
}

// expandSteps replaces any step carrying expected_output.tasks[] with its
// sub-tasks as sibling steps, replacing the parent.
func expandSteps(steps []rawStep) []rawStep {
	var out []rawStep
	for _, s := range steps {
		if s.ExpectedOutput != nil && len(s.ExpectedOutput.Tasks) > 0 {
			out = append(out, expandSteps(s.ExpectedOutput.Tasks)...)
			continue
		}
		out = append(out, s)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// Revise rebuilds the plan from a fresh LLM response to user feedback,
// copying user_notes forward by step number, pushing the prior step set
// into revision_history, and incrementing revision_count. A failed parse
// leaves p unchanged and returns false.
func (p *ActionPlan) Revise(response string, sanitize func(string) (map[string]interface{}, bool)) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	newPlan, ok := Parse(p.Task, response, sanitize)
	if !ok {
		return false
	}

	prevNotes := make(map[int]string, len(p.Steps))
	for _, s := range p.Steps {
		if s.UserNotes != "" {
			prevNotes[s.StepNumber] = s.UserNotes
		}
	}
	for _, s := range newPlan.Steps {
		if note, ok := prevNotes[s.StepNumber]; ok {
			s.UserNotes = note
		}
	}

	prevSnapshot := make([]PlanStep, len(p.Steps))
	for i, s := range p.Steps {
		prevSnapshot[i] = *s
	}
	p.RevisionHistory = append(p.RevisionHistory, prevSnapshot)
	p.Steps = newPlan.Steps
	p.RevisionCount++
	p.Status = PlanDraft
	return true
}

// Caller dispatches one step's prompt to the LLM (the Bridge, in
// production) and returns its raw text output.
type Caller func(prompt string) (string, error)

// ArtifactDetector persists artifacts found in a step's output under
// deliverablesDir, returning the deduplicated set of paths/URLs found.
type ArtifactDetector interface {
	Detect(output, deliverablesDir string) []string
}

// ProgressFunc is invoked after every step (including failures).
type ProgressFunc func(step *PlanStep)

const pauseCheckInterval = 500 * time.Millisecond

// Execute iterates steps in order, honoring Cancel/Paused/Skipped,
// dispatching each non-skipped step through call, and invoking detector
// and progress after every step. Terminal plan status is `complete` if
// every step ended in {done, skipped}, otherwise `failed`.
func (p *ActionPlan) Execute(call Caller, detector ArtifactDetector, deliverablesDir string, progress ProgressFunc) {
	p.mu.Lock()
	p.Status = PlanExecuting
	p.mu.Unlock()

	for _, step := range p.Steps {
		if p.waitWhilePaused() {
			step.Status = StepFailed
			step.Error = "cancelled"
			if progress != nil {
				progress(step)
			}
			break
		}

		if step.Skipped {
			step.Status = StepSkipped
			if progress != nil {
				progress(step)
			}
			continue
		}

		p.runStep(step, call, detector, deliverablesDir)
		if progress != nil {
			progress(step)
		}

		if step.PauseAfter {
			if p.waitWhilePaused() {
				break
			}
		}
	}

	p.mu.Lock()
	p.Status = p.terminalStatus()
	p.mu.Unlock()
}

// waitWhilePaused busy-waits at 0.5s granularity while Paused is set,
// returning true if Cancel becomes set while waiting or was already set.
func (p *ActionPlan) waitWhilePaused() bool {
	for {
		p.mu.Lock()
		cancel := p.Cancel
		paused := p.Paused
		p.mu.Unlock()
		if cancel {
			return true
		}
		if !paused {
			return false
		}
		time.Sleep(pauseCheckInterval)
	}
}

func (p *ActionPlan) terminalStatus() PlanStatus {
	for _, s := range p.Steps {
		if s.Status != StepDone && s.Status != StepSkipped {
			return PlanFailed
		}
	}
	return PlanComplete
}

func (p *ActionPlan) runStep(step *PlanStep, call Caller, detector ArtifactDetector, deliverablesDir string) {
	step.Status = StepRunning
	prompt := p.buildStepPrompt(step)

	start := time.Now()
	output, err := call(prompt)
	step.ElapsedSeconds = time.Since(start).Seconds()

	if err != nil {
		step.Status = StepFailed
		step.Error = err.Error()
		return
	}

	step.Status = StepDone
	step.Output = output

	if detector != nil {
		found := detector.Detect(output, deliverablesDir)
		p.mu.Lock()
		p.Artifacts = dedupeAppend(p.Artifacts, found)
		p.mu.Unlock()
	}
}

func dedupeAppend(existing, additions []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, e := range existing {
		seen[e] = true
	}
	out := existing
	for _, a := range additions {
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	return out
}

const outputDigestChars = 300

// buildStepPrompt assembles the per-step prompt: task, step number,
// role, description, tools, optional reference code, user notes, and a
// digest of every prior completed step's output, ending with a fixed
// imperative instruction.
func (p *ActionPlan) buildStepPrompt(step *PlanStep) string {
	var b strings.Builder
	fmt.Fprintf(&b, "TASK: %s\n", p.Task)
	fmt.Fprintf(&b, "STEP %d\n", step.StepNumber)
	fmt.Fprintf(&b, "ROLE: %s\n", step.Agent)
	fmt.Fprintf(&b, "DESCRIPTION: %s\n", step.Description)
	if len(step.Tools) > 0 {
		fmt.Fprintf(&b, "TOOLS: %s\n", strings.Join(step.Tools, ", "))
	}
	if step.ReferenceCode != "" {
		fmt.Fprintf(&b, "REFERENCE CODE:\n%s\n", step.ReferenceCode)
	}
	if step.UserNotes != "" {
		fmt.Fprintf(&b, "USER NOTES: %s\n", step.UserNotes)
	}

	for _, prior := range p.Steps {
		if prior.StepNumber >= step.StepNumber || prior.Status != StepDone {
			continue
		}
		digest := prior.Output
		if len(digest) > outputDigestChars {
			digest = digest[:outputDigestChars]
		}
		fmt.Fprintf(&b, "PRIOR STEP %d OUTPUT: %s\n", prior.StepNumber, digest)
	}

	b.WriteString("Execute this step now. Do not produce another plan.\n")
	return b.String()
}

// MissionReport renders a human-readable summary: per-step status,
// timing, output previews, numbered artifacts, and a deduplicated URL
// list capped at 10.
func (p *ActionPlan) MissionReport() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Mission Report: %s\n", p.Task)
	fmt.Fprintf(&b, "Status: %s\n\n", p.Status)

	for _, s := range p.Steps {
		fmt.Fprintf(&b, "Step %d [%s] %s (%.1fs)\n", s.StepNumber, s.Status, s.Agent, s.ElapsedSeconds)
		if s.Output != "" {
			b.WriteString("  " + previewLine(s.Output) + "\n")
		}
		if s.Error != "" {
			fmt.Fprintf(&b, "  error: %s\n", s.Error)
		}
	}

	if len(p.Artifacts) > 0 {
		b.WriteString("\nArtifacts:\n")
		for i, a := range p.Artifacts {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, a)
		}
	}

	urls := dedupeURLs(p.Steps, 10)
	if len(urls) > 0 {
		b.WriteString("\nURLs:\n")
		for _, u := range urls {
			fmt.Fprintf(&b, "  - %s\n", u)
		}
	}

	return b.String()
}

const previewChars = 120

func previewLine(output string) string {
	line := output
	if idx := strings.IndexByte(line, '\n'); idx != -1 {
		line = line[:idx]
	}
	if len(line) > previewChars {
		line = line[:previewChars]
	}
	return line
}

var urlPattern = regexp.MustCompile(`https?://[^\s)'"]+`)

func dedupeURLs(steps []*PlanStep, max int) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range steps {
		for _, u := range urlPattern.FindAllString(s.Output, -1) {
			if seen[u] {
				continue
			}
			seen[u] = true
			out = append(out, u)
			if len(out) >= max {
				return out
			}
		}
	}
	return out
}

// SortedStepNumbers is a small helper for callers rendering plan JSON
// deterministically.
func SortedStepNumbers(p *ActionPlan) []int {
	nums := make([]int, 0, len(p.Steps))
	for _, s := range p.Steps {
		nums = append(nums, s.StepNumber)
	}
	sort.Ints(nums)
	return nums
}

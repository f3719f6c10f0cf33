package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphabridge/runtime/internal/sanitizer"
)

// TestParse_NestedExpectedOutputExpansion exercises spec scenario 3: a
// single step whose expected_output.tasks[] expands into sibling steps,
// renumbered 1..n with agents normalized to their canonical form.
func TestParse_NestedExpectedOutputExpansion(t *testing.T) {
	response := `{
		"steps": [
			{
				"agent": "planner",
				"description": "root",
				"expected_output": {
					"tasks": [
						{"agent": "cfo", "description": "X"},
						{"agent": "cmo", "description": "Y"}
					]
				}
			}
		]
	}`

	p, ok := Parse("do the thing", response, sanitizer.Sanitize)
	require.True(t, ok)
	require.Len(t, p.Steps, 2)
	assert.Equal(t, 1, p.Steps[0].StepNumber)
	assert.Equal(t, "CFO", p.Steps[0].Agent)
	assert.Equal(t, 2, p.Steps[1].StepNumber)
	assert.Equal(t, "CMO", p.Steps[1].Agent)
}

func TestParse_DescriptionFallback(t *testing.T) {
	response := `{"steps": [{"agent": "generic", "action": "do a thing"}]}`
	p, ok := Parse("task", response, sanitizer.Sanitize)
	require.True(t, ok)
	require.Len(t, p.Steps, 1)
	assert.Equal(t, "do a thing", p.Steps[0].Description)
}

func TestParse_NoStepsReturnsFalse(t *testing.T) {
	_, ok := Parse("task", "just some plain text", sanitizer.Sanitize)
	assert.False(t, ok)
}

func TestClassifyRisk(t *testing.T) {
	assert.Equal(t, RiskCritical, classifyRisk("deploy the service to production", nil))
	assert.Equal(t, RiskCaution, classifyRisk("write a report", nil))
	assert.Equal(t, RiskCaution, classifyRisk("do something", []string{"write_file"}))
	assert.Equal(t, RiskSafe, classifyRisk("summarize the quarter", nil))
}

func TestRevise_PreservesUserNotesAndPushesHistory(t *testing.T) {
	response := `{"steps": [{"agent": "generic", "description": "first"}]}`
	p, ok := Parse("task", response, sanitizer.Sanitize)
	require.True(t, ok)
	p.Steps[0].UserNotes = "please be concise"

	revised := `{"steps": [{"agent": "generic", "description": "revised first"}, {"agent": "writer", "description": "second"}]}`
	ok = p.Revise(revised, sanitizer.Sanitize)
	require.True(t, ok)

	require.Len(t, p.Steps, 2)
	assert.Equal(t, "please be concise", p.Steps[0].UserNotes)
	assert.Equal(t, 1, p.RevisionCount)
	require.Len(t, p.RevisionHistory, 1)
	assert.Equal(t, "first", p.RevisionHistory[0][0].Description)
}

func TestRevise_FailedParseLeavesPlanUnchanged(t *testing.T) {
	response := `{"steps": [{"agent": "generic", "description": "first"}]}`
	p, ok := Parse("task", response, sanitizer.Sanitize)
	require.True(t, ok)

	ok = p.Revise("not a plan at all", sanitizer.Sanitize)
	assert.False(t, ok)
	assert.Equal(t, 0, p.RevisionCount)
	assert.Len(t, p.Steps, 1)
}

func TestExecute_HonorsCancel(t *testing.T) {
	response := `{"steps": [{"agent": "generic", "description": "a"}, {"agent": "generic", "description": "b"}]}`
	p, ok := Parse("task", response, sanitizer.Sanitize)
	require.True(t, ok)
	p.Cancel = true

	calls := 0
	p.Execute(func(prompt string) (string, error) {
		calls++
		return "done", nil
	}, nil, t.TempDir(), nil)

	assert.Equal(t, 0, calls)
	assert.Equal(t, PlanFailed, p.Status)
}

func TestExecute_CompleteWhenAllDoneOrSkipped(t *testing.T) {
	response := `{"steps": [{"agent": "generic", "description": "a"}, {"agent": "generic", "description": "b"}]}`
	p, ok := Parse("task", response, sanitizer.Sanitize)
	require.True(t, ok)
	p.Steps[1].Skipped = true

	p.Execute(func(prompt string) (string, error) {
		return "ok output", nil
	}, nil, t.TempDir(), nil)

	assert.Equal(t, PlanComplete, p.Status)
	assert.Equal(t, StepDone, p.Steps[0].Status)
	assert.Equal(t, StepSkipped, p.Steps[1].Status)
}

func TestArtifactDetection_DeclaredCallMapsUnknownTypeToMarkdown(t *testing.T) {
	dir := t.TempDir()
	detector := NewFileDetector()
	output := `produce_document(file_type="pptx", content="body")`

	found := detector.Detect(output, dir)
	require.Len(t, found, 1)
	assert.Contains(t, found[0], ".md")

	// Repeated invocation must resolve to the same artifact path rather
	// than duplicating it.
	foundAgain := detector.Detect(output, dir)
	require.Len(t, foundAgain, 1)
	assert.Equal(t, found[0], foundAgain[0])
}

func TestArtifactDetection_LongPlainOutputPersisted(t *testing.T) {
	dir := t.TempDir()
	detector := NewFileDetector()
	longOutput := ""
	for i := 0; i < 50; i++ {
		longOutput += "word "
	}
	found := detector.Detect(longOutput, dir)
	require.Len(t, found, 1)
}

func TestArtifactDetection_ShortOutputNotPersisted(t *testing.T) {
	dir := t.TempDir()
	detector := NewFileDetector()
	found := detector.Detect("too short", dir)
	assert.Empty(t, found)
}

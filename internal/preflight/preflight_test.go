package preflight

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckEnvKeysDistinguishesMissingPlaceholderAndSet(t *testing.T) {
	require.NoError(t, os.Setenv("PREFLIGHT_TEST_SET", "real-value"))
	require.NoError(t, os.Setenv("PREFLIGHT_TEST_PLACEHOLDER", "changeme"))
	defer os.Unsetenv("PREFLIGHT_TEST_SET")
	defer os.Unsetenv("PREFLIGHT_TEST_PLACEHOLDER")
	os.Unsetenv("PREFLIGHT_TEST_MISSING")

	results := CheckEnvKeys([]string{"PREFLIGHT_TEST_SET", "PREFLIGHT_TEST_PLACEHOLDER", "PREFLIGHT_TEST_MISSING"})
	require.Len(t, results, 3)
	assert.Equal(t, LevelPass, results[0].Level)
	assert.Equal(t, LevelWarn, results[1].Level)
	assert.Equal(t, LevelFail, results[2].Level)
}

func TestCheckCriticalFiles(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "go.mod")
	require.NoError(t, os.WriteFile(present, []byte("module x"), 0o644))

	results := CheckCriticalFiles([]string{present, filepath.Join(dir, "missing.txt")})
	require.Len(t, results, 2)
	assert.Equal(t, LevelPass, results[0].Level)
	assert.Equal(t, LevelFail, results[1].Level)
}

func TestCheckAutomationProviderReachableStatusMapping(t *testing.T) {
	okServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer okServer.Close()
	unauthServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer unauthServer.Close()
	errServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer errServer.Close()

	assert.Equal(t, LevelPass, CheckAutomationProviderReachable(context.Background(), okServer.URL).Level)
	assert.Equal(t, LevelWarn, CheckAutomationProviderReachable(context.Background(), unauthServer.URL).Level)
	assert.Equal(t, LevelFail, CheckAutomationProviderReachable(context.Background(), errServer.URL).Level)
	assert.Equal(t, LevelWarn, CheckAutomationProviderReachable(context.Background(), "").Level)
}

func TestCheckDependencies(t *testing.T) {
	specs := []DependencySpec{
		{Name: "ok", Probe: func() error { return nil }},
		{Name: "broken", Probe: func() error { return fmt.Errorf("missing symbol") }},
	}
	results := CheckDependencies(specs)
	require.Len(t, results, 2)
	assert.Equal(t, LevelPass, results[0].Level)
	assert.Equal(t, LevelFail, results[1].Level)
}

func TestReportPassedFailedWarnings(t *testing.T) {
	report := Report{Results: []Result{
		{Name: "a", Level: LevelPass},
		{Name: "b", Level: LevelWarn},
		{Name: "c", Level: LevelFail},
	}}
	assert.False(t, report.Passed())
	assert.Len(t, report.Failed(), 1)
	assert.Len(t, report.Warnings(), 1)
}

func TestCheckContainerRuntimeMissingBinaryIsWarning(t *testing.T) {
	result := CheckContainerRuntime("definitely-not-a-real-binary-xyz")
	assert.Equal(t, LevelWarn, result.Level)
}

// Package preflight implements pre-launch validation of environment
// keys, dependency availability, automation-provider reachability, an
// optional container runtime, critical file existence, and port
// availability, accumulating every problem found rather than failing
// fast on the first one.
package preflight

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Level distinguishes a hard failure from a non-blocking warning.
type Level string

const (
	LevelPass Level = "pass"
	LevelWarn Level = "warn"
	LevelFail Level = "fail"
)

// Result is one check's outcome.
type Result struct {
	Name    string `json:"name"`
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

// Report aggregates every check run in one pass.
type Report struct {
	Results []Result `json:"results"`
}

// Passed reports whether zero checks failed.
func (r Report) Passed() bool {
	for _, res := range r.Results {
		if res.Level == LevelFail {
			return false
		}
	}
	return true
}

// Failed and Warnings filter Results by level for reporting.
func (r Report) Failed() []Result   { return r.filter(LevelFail) }
func (r Report) Warnings() []Result { return r.filter(LevelWarn) }

func (r Report) filter(level Level) []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Level == level {
			out = append(out, res)
		}
	}
	return out
}

// placeholderValues are values commonly left in an example .env file
// that should be flagged even though the key is technically set.
var placeholderValues = map[string]bool{
	"changeme": true, "your_api_key_here": true, "todo": true, "xxx": true, "": true,
}

// CheckEnvKeys verifies each required key is set and not a placeholder.
func CheckEnvKeys(required []string) []Result {
	results := make([]Result, 0, len(required))
	for _, key := range required {
		val := strings.TrimSpace(os.Getenv(key))
		lower := strings.ToLower(val)
		switch {
		case val == "":
			results = append(results, Result{Name: "env:" + key, Level: LevelFail, Message: "not set"})
		case placeholderValues[lower]:
			results = append(results, Result{Name: "env:" + key, Level: LevelWarn, Message: "looks like a placeholder value"})
		default:
			results = append(results, Result{Name: "env:" + key, Level: LevelPass, Message: "set"})
		}
	}
	return results
}

// CheckCriticalFiles verifies each path exists.
func CheckCriticalFiles(paths []string) []Result {
	results := make([]Result, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			results = append(results, Result{Name: "file:" + p, Level: LevelFail, Message: "missing"})
			continue
		}
		results = append(results, Result{Name: "file:" + p, Level: LevelPass, Message: "present"})
	}
	return results
}

// CheckPorts verifies each port is free to bind.
func CheckPorts(ports []int) []Result {
	results := make([]Result, 0, len(ports))
	for _, port := range ports {
		addr := fmt.Sprintf(":%d", port)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			results = append(results, Result{Name: fmt.Sprintf("port:%d", port), Level: LevelFail, Message: "in use"})
			continue
		}
		ln.Close()
		results = append(results, Result{Name: fmt.Sprintf("port:%d", port), Level: LevelPass, Message: "available"})
	}
	return results
}

// CheckContainerRuntime is an optional check: absence is a warning, not
// a failure.
func CheckContainerRuntime(binary string) Result {
	if binary == "" {
		binary = "docker"
	}
	if _, err := exec.LookPath(binary); err != nil {
		return Result{Name: "container_runtime:" + binary, Level: LevelWarn, Message: "not found on PATH"}
	}
	return Result{Name: "container_runtime:" + binary, Level: LevelPass, Message: "available"}
}

// CheckAutomationProviderReachable distinguishes 200 (pass), 401 (warn:
// reachable but unauthenticated), and anything else (fail).
func CheckAutomationProviderReachable(ctx context.Context, url string) Result {
	name := "automation_provider_reachable"
	if url == "" {
		return Result{Name: name, Level: LevelWarn, Message: "no automation provider URL configured"}
	}

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{Name: name, Level: LevelFail, Message: err.Error()}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: name, Level: LevelFail, Message: err.Error()}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return Result{Name: name, Level: LevelPass, Message: "reachable"}
	case http.StatusUnauthorized:
		return Result{Name: name, Level: LevelWarn, Message: "reachable but unauthenticated"}
	default:
		return Result{Name: name, Level: LevelFail, Message: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}
}

// DependencySpec names a Go import path this process needs compiled in;
// since Go has no runtime "importable" check like a scripting language,
// CheckDependencies instead confirms each package's compiled-in marker
// function is reachable, standing in for the source system's
// importlib-based dependency probe.
type DependencySpec struct {
	Name  string
	Probe func() error
}

// CheckDependencies runs each DependencySpec's probe, reporting failure
// if it errors.
func CheckDependencies(specs []DependencySpec) []Result {
	results := make([]Result, 0, len(specs))
	for _, spec := range specs {
		if err := spec.Probe(); err != nil {
			results = append(results, Result{Name: "dependency:" + spec.Name, Level: LevelFail, Message: err.Error()})
			continue
		}
		results = append(results, Result{Name: "dependency:" + spec.Name, Level: LevelPass, Message: "available"})
	}
	return results
}

// Config bundles every input CheckAll needs for a full pass.
type Config struct {
	RequiredEnvKeys       []string
	CriticalFiles         []string
	Ports                 []int
	ContainerRuntime      string
	AutomationProviderURL string
	Dependencies          []DependencySpec
}

// CheckAll runs every configured check and returns the aggregate report.
func CheckAll(ctx context.Context, cfg Config) Report {
	var results []Result
	results = append(results, CheckEnvKeys(cfg.RequiredEnvKeys)...)
	results = append(results, CheckDependencies(cfg.Dependencies)...)
	results = append(results, CheckAutomationProviderReachable(ctx, cfg.AutomationProviderURL))
	results = append(results, CheckContainerRuntime(cfg.ContainerRuntime))
	results = append(results, CheckCriticalFiles(cfg.CriticalFiles)...)
	results = append(results, CheckPorts(cfg.Ports)...)
	return Report{Results: results}
}

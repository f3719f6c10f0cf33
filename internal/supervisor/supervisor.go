// Package supervisor implements a single-threaded 5-minute scheduler
// that health-checks the automation provider within a configured window,
// health-checks the local HTTP server, watches a JSON file of "open
// position" identifiers for new entries via fsnotify, and fires a
// once-per-day trigger at/after 09:15 local time. The subprocess it
// shells out to distinguishes a hard timeout (warning) from a nonzero
// exit unrelated to timeout (failure).
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/alphabridge/runtime/internal/corelog"
)

const (
	tickInterval       = 5 * time.Minute
	subprocessTimeout  = 120 * time.Second
	dailyTriggerHour   = 9
	dailyTriggerMinute = 15
)

// HealthWindow bounds when the automation provider gets polled (design:
// "only during a configured weekday/hour window").
type HealthWindow struct {
	Weekdays  map[time.Weekday]bool
	StartHour int
	EndHour   int
}

func (w HealthWindow) contains(t time.Time) bool {
	if len(w.Weekdays) > 0 && !w.Weekdays[t.Weekday()] {
		return false
	}
	return t.Hour() >= w.StartHour && t.Hour() < w.EndHour
}

// Subprocess runs the domain trigger; production wires this to an
// os/exec.CommandContext invocation of the scheduled workflow runner.
type Subprocess func(ctx context.Context, force bool) error

// Loop owns one supervisor tick cycle.
type Loop struct {
	automationHealthURL string
	localHealthURL      string
	watchedFile         string
	window              HealthWindow
	subprocess          Subprocess
	logger              corelog.Logger
	httpClient          *http.Client

	lastPositions   map[string]bool
	lastDailyRunDay string
	watcher         *fsnotify.Watcher
}

// New builds a Loop. watchedFile is a JSON file containing an array of
// open-position identifier strings, under a key named "positions".
func New(automationHealthURL, localHealthURL, watchedFile string, window HealthWindow, subprocess Subprocess, logger corelog.Logger) *Loop {
	if logger == nil {
		logger = corelog.NoOpLogger{}
	}
	return &Loop{
		automationHealthURL: automationHealthURL,
		localHealthURL:      localHealthURL,
		watchedFile:         watchedFile,
		window:              window,
		subprocess:          subprocess,
		logger:              logger,
		httpClient:          &http.Client{Timeout: 10 * time.Second},
		lastPositions:       map[string]bool{},
	}
}

// Run blocks, ticking every 5 minutes until ctx is cancelled. It also
// watches watchedFile for writes in between ticks via fsnotify, so a
// change is detected promptly rather than only at the next tick.
func (l *Loop) Run(ctx context.Context) {
	if l.watchedFile != "" {
		if w, err := fsnotify.NewWatcher(); err == nil {
			l.watcher = w
			defer w.Close()
			if err := w.Add(l.watchedFile); err != nil {
				l.logger.Warn("supervisor: could not watch positions file", map[string]interface{}{"error": err.Error()})
			}
		} else {
			l.logger.Warn("supervisor: fsnotify watcher unavailable", map[string]interface{}{"error": err.Error()})
		}
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	l.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		case event := <-l.watcherEvents():
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				l.checkPositions(ctx)
			}
		}
	}
}

func (l *Loop) watcherEvents() <-chan fsnotify.Event {
	if l.watcher == nil {
		return nil
	}
	return l.watcher.Events
}

func (l *Loop) tick(ctx context.Context) {
	now := time.Now()

	if l.window.contains(now) {
		l.checkAutomationHealth(ctx)
	}
	l.checkLocalHealth(ctx)
	l.checkPositions(ctx)
	l.checkDailyTrigger(ctx, now)
}

func (l *Loop) checkAutomationHealth(ctx context.Context) {
	if l.automationHealthURL == "" {
		return
	}
	if err := l.ping(ctx, l.automationHealthURL); err != nil {
		l.logger.Warn("supervisor: automation provider health check failed", map[string]interface{}{"error": err.Error()})
	}
}

func (l *Loop) checkLocalHealth(ctx context.Context) {
	if l.localHealthURL == "" {
		return
	}
	if err := l.ping(ctx, l.localHealthURL); err != nil {
		l.logger.Warn("supervisor: local server health check failed", map[string]interface{}{"error": err.Error()})
	}
}

func (l *Loop) ping(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

type positionsFile struct {
	Positions []string `json:"positions"`
}

func (l *Loop) checkPositions(ctx context.Context) {
	if l.watchedFile == "" {
		return
	}
	current, err := readPositions(l.watchedFile)
	if err != nil {
		l.logger.Warn("supervisor: could not read positions file", map[string]interface{}{"error": err.Error()})
		return
	}

	newFound := false
	currentSet := make(map[string]bool, len(current))
	for _, id := range current {
		currentSet[id] = true
		if !l.lastPositions[id] {
			newFound = true
		}
	}
	l.lastPositions = currentSet

	if newFound {
		l.runSubprocess(ctx, true)
	}
}

func readPositions(path string) ([]string, error) {
	var f positionsFile
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return f.Positions, nil
}

func (l *Loop) checkDailyTrigger(ctx context.Context, now time.Time) {
	today := now.Format("2006-01-02")
	if l.lastDailyRunDay == today {
		return
	}
	if now.Hour() > dailyTriggerHour || (now.Hour() == dailyTriggerHour && now.Minute() >= dailyTriggerMinute) {
		l.lastDailyRunDay = today
		l.runSubprocess(ctx, false)
	}
}

// runSubprocess enforces the hard 120s timeout, logging a timeout as a
// warning rather than a failure.
func (l *Loop) runSubprocess(ctx context.Context, force bool) {
	if l.subprocess == nil {
		return
	}
	subCtx, cancel := context.WithTimeout(ctx, subprocessTimeout)
	defer cancel()

	err := l.subprocess(subCtx, force)
	if err == nil {
		return
	}
	if subCtx.Err() == context.DeadlineExceeded {
		l.logger.Warn("supervisor: subprocess trigger timed out", map[string]interface{}{"force": force})
		return
	}
	l.logger.Error("supervisor: subprocess trigger failed", map[string]interface{}{"force": force, "error": err.Error()})
}

// ExecSubprocess builds a Subprocess that runs an external command,
// passing --force when force is true.
func ExecSubprocess(name string, args ...string) Subprocess {
	return func(ctx context.Context, force bool) error {
		fullArgs := args
		if force {
			fullArgs = append(append([]string{}, args...), "--force")
		}
		cmd := exec.CommandContext(ctx, name, fullArgs...)
		return cmd.Run()
	}
}

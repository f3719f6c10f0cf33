// Package budget implements periodic spend polling against a monthly
// limit, classified ok/warning/critical, with a rolling sample history
// persisted to disk.
package budget

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/alphabridge/runtime/internal/corelog"
)

// Status is the guard's classification of the current spend ratio.
type Status string

const (
	StatusOK       Status = "ok"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

const maxSamples = 30

// Sample is one polled spend observation.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	SpendUSD  float64   `json:"spend_usd"`
	LimitUSD  float64   `json:"limit_usd"`
	Ratio     float64   `json:"ratio"`
	Status    Status    `json:"status"`
}

// SpendSource reports the current period-to-date spend. Implementations
// call out to a billing provider; tests can stub it directly.
type SpendSource interface {
	CurrentSpend() (float64, error)
}

// Guard classifies spend against a configured monthly limit and
// remembers the last 30 samples as a bounded ring.
type Guard struct {
	mu sync.Mutex

	source        SpendSource
	limitUSD      float64
	warningRatio  float64
	criticalRatio float64
	historyPath   string
	logger        corelog.Logger
	nowFn         func() time.Time

	samples []Sample
}

// New creates a Guard. warningRatio/criticalRatio are fractions of
// limitUSD (sane defaults: 0.70 / 0.90). historyPath persists samples
// across process restarts; empty disables persistence.
func New(source SpendSource, limitUSD, warningRatio, criticalRatio float64, historyPath string, logger corelog.Logger) *Guard {
	if logger == nil {
		logger = corelog.NoOpLogger{}
	}
	g := &Guard{
		source:        source,
		limitUSD:      limitUSD,
		warningRatio:  warningRatio,
		criticalRatio: criticalRatio,
		historyPath:   historyPath,
		logger:        logger,
		nowFn:         time.Now,
	}
	g.loadHistory()
	return g
}

// SetClock overrides the guard's time source; tests only.
func (g *Guard) SetClock(fn func() time.Time) { g.nowFn = fn }

func (g *Guard) loadHistory() {
	if g.historyPath == "" {
		return
	}
	data, err := os.ReadFile(g.historyPath)
	if err != nil {
		return
	}
	var samples []Sample
	if err := json.Unmarshal(data, &samples); err != nil {
		g.logger.Warn("budget history file malformed, starting fresh", map[string]interface{}{"error": err.Error()})
		return
	}
	g.samples = samples
}

func (g *Guard) saveHistory() {
	if g.historyPath == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(g.historyPath), 0o755); err != nil {
		g.logger.Warn("could not create budget history dir", map[string]interface{}{"error": err.Error()})
		return
	}
	data, err := json.MarshalIndent(g.samples, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(g.historyPath, data, 0o644)
}

// Poll queries the spend source, classifies the result, appends it to
// history (trimming beyond the last 30 samples), persists, and returns
// the sample.
func (g *Guard) Poll() (Sample, error) {
	spend, err := g.source.CurrentSpend()
	if err != nil {
		return Sample{}, fmt.Errorf("fetching current spend: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	ratio := 0.0
	if g.limitUSD > 0 {
		ratio = spend / g.limitUSD
	}

	status := StatusOK
	switch {
	case ratio >= g.criticalRatio:
		status = StatusCritical
	case ratio >= g.warningRatio:
		status = StatusWarning
	}

	sample := Sample{
		Timestamp: g.nowFn().UTC(),
		SpendUSD:  spend,
		LimitUSD:  g.limitUSD,
		Ratio:     ratio,
		Status:    status,
	}

	g.samples = append(g.samples, sample)
	if len(g.samples) > maxSamples {
		g.samples = g.samples[len(g.samples)-maxSamples:]
	}
	g.saveHistory()

	if status != StatusOK {
		g.logger.Warn("budget guard threshold crossed", map[string]interface{}{
			"status":    string(status),
			"ratio":     ratio,
			"spend_usd": spend,
			"limit_usd": g.limitUSD,
		})
	}

	return sample, nil
}

// History returns the samples currently retained, oldest first.
func (g *Guard) History() []Sample {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Sample, len(g.samples))
	copy(out, g.samples)
	return out
}

// Latest returns the most recent sample and whether any exist.
func (g *Guard) Latest() (Sample, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.samples) == 0 {
		return Sample{}, false
	}
	return g.samples[len(g.samples)-1], true
}

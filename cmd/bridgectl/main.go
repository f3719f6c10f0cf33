// bridgectl is the operator CLI for the runtime's reliability substrate:
// workflow lifecycle toggles, circuit breaker status, the error log,
// config snapshots, the budget guard, preflight, and a telemetry
// dashboard. Built with cobra rather than hand-rolled flag parsing.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/alphabridge/runtime/internal/breaker"
	"github.com/alphabridge/runtime/internal/budget"
	"github.com/alphabridge/runtime/internal/config"
	"github.com/alphabridge/runtime/internal/corelog"
	"github.com/alphabridge/runtime/internal/erroragg"
	"github.com/alphabridge/runtime/internal/lifecycle"
	"github.com/alphabridge/runtime/internal/preflight"
	"github.com/alphabridge/runtime/internal/snapshot"
)

func main() {
	logger := corelog.NewProductionLogger("bridgectl", "info")
	root := &cobra.Command{Use: "bridgectl", Short: "Operator CLI for the agent bridge runtime"}

	root.AddCommand(
		newLifecycleCmd(logger),
		newCircuitBreakerCmd(logger),
		newErrorAggregatorCmd(),
		newConfigSnapshotCmd(logger),
		newBudgetGuardCmd(logger),
		newPreflightCmd(),
		newTelemetryDashboardCmd(logger),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	cfg, err := config.New(os.Getenv("BRIDGE_CONFIG"))
	if err != nil {
		cfg = config.Default()
	}
	return cfg
}

func newLifecycleCmd(logger corelog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "n8n_lifecycle {activate|deactivate} {alpha|meta|all}",
		Short: "Activate or deactivate a named group of remote workflows",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			toggler := lifecycle.NewHTTPToggler(cfg.PrimaryWebhookURL)
			groups := map[string][]string{
				"alpha": {"alpha-1", "alpha-2"},
				"meta":  {"meta-1"},
				"all":   {"alpha-1", "alpha-2", "meta-1"},
			}
			manager := lifecycle.New(toggler, groups, logger)

			var failures int
			switch args[0] {
			case "activate":
				failures = manager.Activate(context.Background(), args[1])
			case "deactivate":
				failures = manager.Deactivate(context.Background(), args[1])
			default:
				return fmt.Errorf("unknown verb %q, expected activate or deactivate", args[0])
			}
			if failures > 0 {
				fmt.Printf("completed with %d failure(s)\n", failures)
				os.Exit(1)
			}
			fmt.Println("ok")
			return nil
		},
	}
	return cmd
}

func newCircuitBreakerCmd(logger corelog.Logger) *cobra.Command {
	var stateDir string
	cmd := &cobra.Command{
		Use:   "circuit_breaker",
		Short: "Show the status of every known circuit breaker",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := os.ReadDir(stateDir)
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Println("no circuit breakers recorded yet")
					return nil
				}
				return err
			}
			for _, e := range entries {
				if e.IsDir() {
					continue
				}
				name := trimJSONExt(e.Name())
				b := breaker.New(name, breaker.DefaultConfig(), stateDir, logger)
				snap := b.Snapshot()
				fmt.Printf("%-20s state=%-10v failures=%-6v successes=%v\n",
					snap["name"], snap["state"], snap["consecutive_failures"], snap["consecutive_successes"])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&stateDir, "state-dir", defaultStateDir("circuit_breakers"), "directory holding per-breaker state files")
	return cmd
}

func trimJSONExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}

func newErrorAggregatorCmd() *cobra.Command {
	var app, severity, logPath string
	var limit int
	var summary bool
	cmd := &cobra.Command{
		Use:   "error_aggregator",
		Short: "Query the error aggregator's JSONL log",
		RunE: func(cmd *cobra.Command, args []string) error {
			agg, err := erroragg.New(logPath)
			if err != nil {
				return err
			}
			if summary {
				sum, err := agg.SummaryOf()
				if err != nil {
					return err
				}
				return printJSON(sum)
			}
			entries, err := agg.Read(erroragg.Filter{App: app, Severity: erroragg.Severity(severity), Limit: limit})
			if err != nil {
				return err
			}
			return printJSON(entries)
		},
	}
	cmd.Flags().StringVar(&app, "app", "", "filter by app name")
	cmd.Flags().StringVar(&severity, "severity", "", "filter by severity")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "max entries to show")
	cmd.Flags().BoolVar(&summary, "summary", false, "show aggregate summary instead of entries")
	cmd.Flags().StringVar(&logPath, "log-path", defaultStatePath("errors.jsonl"), "path to the error log")
	return cmd
}

func newConfigSnapshotCmd(logger corelog.Logger) *cobra.Command {
	var list bool
	var restoreFile, target, snapshotDir string
	cmd := &cobra.Command{
		Use:   "config_snapshot",
		Short: "List or restore config file snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			snapper, err := snapshot.New(snapshotDir, 10, logger)
			if err != nil {
				return err
			}
			if list {
				records, err := snapper.List(target)
				if err != nil {
					return err
				}
				return printJSON(records)
			}
			if target == "" {
				return fmt.Errorf("--target is required for --restore")
			}
			return snapper.Restore(target, restoreFile)
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "list snapshots for --target")
	cmd.Flags().StringVar(&restoreFile, "restore", "", "specific snapshot path to restore (default: newest)")
	cmd.Flags().StringVar(&target, "target", "", "original file path to list or restore snapshots for")
	cmd.Flags().StringVar(&snapshotDir, "snapshot-dir", defaultStateDir("config_snapshots"), "snapshot directory")
	return cmd
}

type staticSpend float64

func (s staticSpend) CurrentSpend() (float64, error) { return float64(s), nil }

func newBudgetGuardCmd(logger corelog.Logger) *cobra.Command {
	var limit float64
	cmd := &cobra.Command{
		Use:   "n8n_budget_guard",
		Short: "Poll current spend and classify against the monthly limit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			if limit == 0 {
				limit = cfg.BudgetMonthlyLimit
			}
			source := staticSpend(0) // no spend source is wired; spend is reported as 0
			g := budget.New(source, limit, cfg.BudgetWarningRatio, cfg.BudgetCriticalRatio,
				defaultStatePath("budget_history.json"), logger)
			sample, err := g.Poll()
			if err != nil {
				return err
			}
			printJSON(sample)
			switch sample.Status {
			case budget.StatusCritical:
				os.Exit(1)
			case budget.StatusOK, budget.StatusWarning:
				os.Exit(0)
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&limit, "limit", 0, "override the configured monthly limit")
	return cmd
}

func newPreflightCmd() *cobra.Command {
	var app, dir string
	cmd := &cobra.Command{
		Use:   "preflight",
		Short: "Validate the environment before launch",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			requiredKeys := []string{"VAULT_PASSWORD"}
			if app != "generic" {
				requiredKeys = append(requiredKeys, fmt.Sprintf("%s_API_KEY", strings.ToUpper(app)))
			}
			report := preflight.CheckAll(context.Background(), preflight.Config{
				RequiredEnvKeys:       requiredKeys,
				CriticalFiles:         []string{filepath.Join(dir, "go.mod")},
				Ports:                 []int{8080},
				AutomationProviderURL: cfg.PrimaryWebhookURL,
			})
			printJSON(report)
			if !report.Passed() {
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&app, "app", "generic", "app profile to validate (alpha|meta|generic)")
	cmd.Flags().StringVar(&dir, "dir", ".", "directory to validate critical files against")
	return cmd
}

func newTelemetryDashboardCmd(logger corelog.Logger) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "telemetry_dashboard",
		Short: "Unified view of circuit breakers, budget, and recent errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			agg, err := erroragg.New(defaultStatePath("errors.jsonl"))
			if err != nil {
				return err
			}
			errSummary, _ := agg.SummaryOf()

			g := budget.New(staticSpend(0), cfg.BudgetMonthlyLimit, cfg.BudgetWarningRatio, cfg.BudgetCriticalRatio,
				defaultStatePath("budget_history.json"), logger)
			latest, _ := g.Latest()

			var breakers []map[string]interface{}
			breakerDir := defaultStateDir("circuit_breakers")
			if entries, err := os.ReadDir(breakerDir); err == nil {
				for _, e := range entries {
					if e.IsDir() {
						continue
					}
					breakers = append(breakers, breaker.New(trimJSONExt(e.Name()), breaker.DefaultConfig(), breakerDir, logger).Snapshot())
				}
			}

			dashboard := map[string]interface{}{
				"generated_at":     time.Now().UTC(),
				"circuit_breakers": breakers,
				"errors":           errSummary,
				"budget_latest":    latest,
			}
			if jsonOut {
				return printJSON(dashboard)
			}
			for _, snap := range breakers {
				fmt.Printf("Breaker %v: %v\n", snap["name"], snap["state"])
			}
			fmt.Printf("Errors: %d total\n", errSummary.Total)
			fmt.Printf("Budget: %s (%.1f%%)\n", latest.Status, latest.Ratio*100)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit JSON instead of a text summary")
	return cmd
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func defaultStateDir(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".alphabridge", name)
}

func defaultStatePath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".alphabridge", name)
}

// Package main provides the atlasrag binary entry point: question answering
// over harvested database catalogs, vector index maintenance and scan
// reconciliation.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	// Register LLM providers via init()
	_ "github.com/atlasdata/atlasrag/llm/providers"

	"github.com/spf13/cobra"

	"github.com/atlasdata/atlasrag/config"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "atlasrag"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   appName,
		Short: "SQL-RAG question answering over harvested database catalogs",
		Long: `Atlasrag answers natural-language questions about catalogued databases.

It drafts SELECT statements with an LLM planner, validates them against a
per-connection allowlist, executes them with statement timeouts and row
caps, and synthesises the final answer from the results. A vector index
over catalog entities supports retrieval-only answering.`,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(askCmd(&configPath, &logLevel))
	cmd.AddCommand(ragCmd(&configPath, &logLevel))
	cmd.AddCommand(scansCmd(&configPath, &logLevel))
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func askCmd(configPath, logLevel *string) *cobra.Command {
	var (
		connectionIDs []int64
		systemPrompt  string
	)

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a question using live SQL over the selected connections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*configPath, *logLevel, func(ctx context.Context, a *app) error {
				result, err := a.orchestrator.Orchestrate(ctx, orchestrateRequest(args[0], connectionIDs, systemPrompt))
				if err != nil {
					return err
				}
				fmt.Println(result.Answer)
				if len(result.ExecutedQueries) > 0 {
					fmt.Fprintln(os.Stderr)
					for _, q := range result.ExecutedQueries {
						fmt.Fprintf(os.Stderr, "-- %s (%d rows, %dms): %s\n",
							q.Name, q.RowsReturned, q.ElapsedMS, q.SQL)
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().Int64SliceVar(&connectionIDs, "connections", nil, "Connection IDs in scope")
	cmd.Flags().StringVar(&systemPrompt, "system-prompt", "", "Extra system prompt for the final answer")
	return cmd
}

func ragCmd(configPath, logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rag",
		Short: "Vector index operations",
	}

	var connectionIDs []int64
	askCmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a question from the vector index only",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*configPath, *logLevel, func(ctx context.Context, a *app) error {
				answer, err := a.asker.Ask(ctx, args[0], ragScope(connectionIDs))
				if err != nil {
					return err
				}
				fmt.Println(answer.Text)
				return nil
			})
		},
	}
	askCmd.Flags().Int64SliceVar(&connectionIDs, "connections", nil, "Connection IDs in scope")

	var scanID int64
	reindexCmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild embeddings for changed catalog entities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*configPath, *logLevel, func(ctx context.Context, a *app) error {
				var scope *int64
				if cmd.Flags().Changed("scan") {
					scope = &scanID
				}
				count, err := a.reindexer.Reindex(ctx, scope)
				if err != nil {
					return err
				}
				fmt.Printf("reindexed %d documents\n", count)
				return nil
			})
		},
	}
	reindexCmd.Flags().Int64Var(&scanID, "scan", 0, "Limit reindexing to one scan")

	cmd.AddCommand(askCmd, reindexCmd)
	return cmd
}

func scansCmd(configPath, logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scans",
		Short: "Catalog scan operations",
	}

	var connectionIDs []int64
	reconcileCmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Settle stale running scans",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*configPath, *logLevel, func(ctx context.Context, a *app) error {
				staleAfter := time.Duration(a.cfg.SQL.StaleScanMinutes) * time.Minute
				result, err := a.reconciler.Reconcile(ctx, connectionIDs, staleAfter)
				if err != nil {
					return err
				}
				fmt.Printf("completed %d, failed %d\n", len(result.Completed), len(result.Failed))
				return nil
			})
		},
	}
	reconcileCmd.Flags().Int64SliceVar(&connectionIDs, "connections", nil, "Connection IDs to reconcile")

	cmd.AddCommand(reconcileCmd)
	return cmd
}

// withApp loads config, builds the app graph and runs fn with a
// signal-cancelled context.
func withApp(configPath, logLevel string, fn func(context.Context, *app) error) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg, logLevel)
	slog.SetDefault(logger)

	a, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return fn(ctx, a)
}

func loadConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
		cfg.ApplyEnv()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	loader := config.NewLoader(nil)
	return loader.Load()
}

func newLogger(cfg *config.Config, override string) *slog.Logger {
	levelName := cfg.App.LogLevel
	if override != "" {
		levelName = override
	}

	level := slog.LevelInfo
	switch strings.ToLower(levelName) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

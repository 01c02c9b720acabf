package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ally/internal/config"
	"ally/internal/constants"
	"ally/internal/dlq"
	"ally/internal/logger"
	"ally/internal/stream"
	"ally/pkg/bootstrap"
	"ally/pkg/logging"
	"ally/pkg/metrics"
)

var (
	configFile   string
	entryID      string
	errorPattern string
	dryRun       bool
	limit        int64
	all          bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "dlq-requeue <project-id>",
		Short: "Inspect and requeue dead-letter entries",
		Long:  "Requeues failed entries from a project's dead-letter stream back onto their original ingest stream. Use --dry-run to preview the selection without mutating anything.",
		Args:  cobra.ExactArgs(1),
		RunE:  run,
	}

	rootCmd.Flags().StringVar(&configFile, "config", "", "Path to config file (required)")
	rootCmd.Flags().StringVar(&entryID, "entry-id", "", "Requeue the single dead-letter entry with this id")
	rootCmd.Flags().StringVar(&errorPattern, "error-pattern", "", "Requeue entries whose error message contains this substring")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the selected entries without requeuing")
	rootCmd.Flags().Int64Var(&limit, "limit", constants.DefaultDLQListLimit, "Maximum number of entries to select")
	rootCmd.Flags().BoolVar(&all, "all", false, "Select every dead-letter entry, ignoring --limit")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	projectID := args[0]
	earlyLog := logging.NewEarlyLog()

	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
		if configFile == "" {
			earlyLog.Error("Config file is required. Use --config flag or CONFIG_FILE environment variable")
			return fmt.Errorf("config file is required")
		}
	}

	selector := dlq.Selector{
		EntryID:      entryID,
		ErrorPattern: errorPattern,
		All:          all,
		Limit:        limit,
	}
	if err := selector.Validate(); err != nil {
		return err
	}

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		earlyLog.Error("Failed to load config: %v", err)
		return err
	}

	log, err := logger.New(cfg.Logging.Level)
	if err != nil {
		earlyLog.Error("Failed to init logger: %v", err)
		return err
	}
	defer log.Sync()

	ctx := context.Background()

	connector := bootstrap.NewDatabaseConnector(cfg, log)
	redisClient, err := connector.InitRedis(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer redisClient.Close()

	metrics.RegisterDLQMetrics()

	streams := stream.NewRedisStreams(redisClient, log)
	svc := dlq.NewService(streams, streams, log)

	summary, err := svc.Requeue(ctx, projectID, selector, dryRun)
	if err != nil {
		return err
	}

	printSummary(cmd, projectID, summary)
	return nil
}

func printSummary(cmd *cobra.Command, projectID string, summary *dlq.Summary) {
	out := cmd.OutOrStdout()

	if summary.DryRun {
		fmt.Fprintf(out, "dry run: %d entries selected in %s\n", summary.Selected, constants.DeadLetterStream(projectID))
		for _, r := range summary.Results {
			fmt.Fprintf(out, "  %s -> %s\n", r.EntryID, r.TargetStream)
		}
		return
	}

	for _, r := range summary.Results {
		switch {
		case r.Requeued:
			fmt.Fprintf(out, "requeued %s -> %s\n", r.EntryID, r.TargetStream)
		case r.Err != nil:
			fmt.Fprintf(out, "failed   %s: %v\n", r.EntryID, r.Err)
		}
	}
	fmt.Fprintf(out, "done: %d selected, %d requeued, %d failed\n", summary.Selected, summary.Requeued, summary.Failed)
}

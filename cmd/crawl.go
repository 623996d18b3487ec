package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/codehub-crawler/internal/crawler"
)

// newCrawlCmd creates the 'crawl' subcommand, which runs one task in-process
// and waits for it to finish.
func newCrawlCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "crawl <username>",
		Short: "Crawls one user's repositories and prints the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd.Context(), cmd.OutOrStdout(), args[0], interval)
		},
	}
	cmd.Flags().DurationVar(&interval, "poll-interval", 200*time.Millisecond, "how often to check the task status")
	return cmd
}

func runCrawl(ctx context.Context, out io.Writer, user string, interval time.Duration) error {
	a, rt, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp(a, rt.logger)
	// Units of a failed run may still be writing; let them settle before close.
	defer func() {
		if err := a.Drain(context.WithoutCancel(ctx)); err != nil {
			rt.logger.Warn("work units still running at exit", zap.Error(err))
		}
	}()

	orch := a.GetOrchestrator()
	taskID, err := orch.CreateTask(ctx, user)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	rt.logger.Info("task armed", zap.Int64("task_id", taskID), zap.String("user", user))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		result, err := orch.GetTaskResult(ctx, taskID)
		if err != nil {
			return fmt.Errorf("get task %d: %w", taskID, err)
		}
		if result.Task.Status.Terminal() {
			if err := writeJSON(out, result); err != nil {
				return err
			}
			if result.Task.Status == crawler.TaskStatusFailed {
				return fmt.Errorf("task %d for %s failed", taskID, user)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for task %d: %w", taskID, ctx.Err())
		case <-ticker.C:
		}
	}
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

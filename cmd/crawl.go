package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/newswatch/internal/crawler"
)

// newCrawlCmd creates the one-shot 'crawl' subcommand. It runs a single crawl
// cycle for one target in-process, under the same lock and timeouts as a
// queued job.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl <target-key>",
		Short: "Run one crawl cycle for a target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, crawler.TaskCrawl, args[0])
		},
	}
}

// newEnrichCmd creates the one-shot 'enrich' subcommand for one stage batch.
func newEnrichCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "enrich <search|complete|score>",
		Short:     "Run one batch of an enrichment stage",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(crawler.TaskSearch), string(crawler.TaskComplete), string(crawler.TaskScore)},
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := crawler.ParseTaskName(args[0])
			if err != nil {
				return err
			}
			if task == crawler.TaskCrawl {
				return errors.New("use the crawl command for crawl jobs")
			}
			return runOnce(cmd, task, "")
		},
	}
}

func runOnce(cmd *cobra.Command, task crawler.TaskName, targetKey string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := appInstance.Close(context.WithoutCancel(cmd.Context())); cerr != nil {
			appInstance.Logger().Warn("Failed to close application", zap.Error(cerr))
		}
	}()

	run, err := appInstance.RunOnce(cmd.Context(), task, targetKey)
	if err != nil {
		return err
	}
	appInstance.Logger().Info("job finished",
		zap.String("job_id", run.ID),
		zap.String("task", string(run.Task)),
		zap.String("status", string(run.Status)),
		zap.Int("processed", run.Processed),
	)
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %d processed\n", run.Task, run.Status, run.Processed)
	return nil
}

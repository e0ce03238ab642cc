package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/newswatch/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API, the scheduler and the workers in one process",
		Args:  cobra.NoArgs,
		RunE:  runMode(server.Mode{HTTP: true, Workers: true, Scheduler: true}),
	}
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume jobs from the queue",
		Long: `Starts the worker pool against the configured queue together with the
operator API. Use a shared queue backend (pubsub) when the scheduler runs in a
separate process.`,
		Args: cobra.NoArgs,
		RunE: runMode(server.Mode{HTTP: true, Workers: true}),
	}
}

func newSchedulerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Enqueue crawl and enrichment jobs on their cron schedules",
		Args:  cobra.NoArgs,
		RunE:  runMode(server.Mode{Scheduler: true}),
	}
}

func runMode(mode server.Mode) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		appInstance, err := resolveApp(cmd.Context())
		if err != nil {
			return err
		}
		if err := appInstance.Run(cmd.Context(), mode); err != nil {
			return fmt.Errorf("run %s: %w", cmd.Name(), err)
		}
		return nil
	}
}

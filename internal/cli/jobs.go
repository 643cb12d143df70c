package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/automlhub/api/internal/model"
)

func newJobsCmd(env func() *Env) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "List, delete or prune the jobs of a project",
	}

	var refresh bool
	listCmd := &cobra.Command{
		Use:   "list <project>",
		Short: "List the jobs of a project",
		Long: `List the jobs of a project.

With --refresh, running jobs are first reconciled against the compute service
and the ledger is written back.

Examples:
  ledgerctl jobs list 3f2a...
  ledgerctl jobs list 3f2a... --refresh`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := env().Ledger.List(cmd.Context(), args[0], refresh)
			if err != nil {
				return fmt.Errorf("list jobs: %w", err)
			}
			printJobs(cmd.OutOrStdout(), jobs)
			return nil
		},
	}
	listCmd.Flags().BoolVar(&refresh, "refresh", false, "reconcile running jobs with the compute service")

	deleteCmd := &cobra.Command{
		Use:   "delete <project> <jobKey>",
		Short: "Remove one job from a project's ledger",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e := env()
			if err := e.Ledger.Delete(cmd.Context(), args[0], args[1]); err != nil {
				return fmt.Errorf("delete job: %w", err)
			}
			// Let the remote cancel finish before the process exits.
			e.Ledger.Wait()
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted: %s\n", args[1])
			return nil
		},
	}

	pruneCmd := &cobra.Command{
		Use:   "prune <project>",
		Short: "Remove finished AutoML jobs and delete their models",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cleanup, err := env().Ledger.DeleteAllJobs(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("prune jobs: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(cleanup.Removed) == 0 {
				fmt.Fprintln(out, "Nothing to prune")
				return nil
			}
			for _, j := range cleanup.Removed {
				fmt.Fprintf(out, "Removed: %s (%s)\n", j.ID(), j.Status)
			}

			select {
			case <-cleanup.Done():
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			}
			if failed := cleanup.Failed(); len(failed) > 0 {
				return fmt.Errorf("failed to delete %d models: %v", len(failed), failed)
			}
			return nil
		},
	}

	remoteCmd := &cobra.Command{
		Use:   "remote",
		Short: "List the jobs the compute service holds",
		Long: `List the jobs the compute service holds, across all projects.

Compare with "jobs list" to find remote builds no ledger tracks.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := env().Compute.ListJobs(cmd.Context())
			if err != nil {
				return fmt.Errorf("list remote jobs: %w", err)
			}
			printJobs(cmd.OutOrStdout(), jobs)
			return nil
		},
	}

	jobsCmd.AddCommand(listCmd, deleteCmd, pruneCmd, remoteCmd)
	return jobsCmd
}

func printJobs(w io.Writer, jobs []*model.Job) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No jobs found")
		return
	}

	fmt.Fprintf(w, "%-38s %-14s %-10s %-9s %-20s %s\n", "KEY", "KIND", "STATUS", "PROGRESS", "STARTED", "DESCRIPTION")
	for _, j := range jobs {
		started := time.UnixMilli(j.StartTime).UTC().Format(time.DateTime)
		fmt.Fprintf(w, "%-38s %-14s %-10s %8.0f%% %-20s %s\n",
			j.ID(), j.Kind(), j.Status, float64(j.Progress)*100, started, j.Description)
	}
}

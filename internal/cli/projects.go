package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newProjectsCmd(env func() *Env) *cobra.Command {
	projectsCmd := &cobra.Command{
		Use:   "projects",
		Short: "Inspect projects",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			projects, err := env().Records.Projects(cmd.Context())
			if err != nil {
				return fmt.Errorf("list projects: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(projects) == 0 {
				fmt.Fprintln(out, "No projects found")
				return nil
			}
			fmt.Fprintf(out, "%-38s %-20s %s\n", "ID", "CREATED", "NAME")
			for _, p := range projects {
				fmt.Fprintf(out, "%-38s %-20s %s\n", p.ID, p.CreatedAt.UTC().Format(time.DateTime), p.Name)
			}
			return nil
		},
	}

	projectsCmd.AddCommand(listCmd)
	return projectsCmd
}

// Package cli provides ledgerctl, an operator tool for inspecting and
// repairing project job ledgers directly in object storage.
package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/automlhub/api/internal/client"
	"github.com/automlhub/api/internal/config"
	"github.com/automlhub/api/internal/ledger"
	"github.com/automlhub/api/internal/logging"
	"github.com/automlhub/api/internal/store"
)

// Version is set at build time.
var Version = "0.1.0"

// Env is what the commands operate on.
type Env struct {
	Records *store.RecordStore
	Ledger  *ledger.Ledger
	Compute client.ComputeService
}

// Opener builds an Env from the loaded configuration.
type Opener func(cfg *config.Config, logger *slog.Logger) (*Env, error)

// OpenStorage connects to the configured object store and compute service.
func OpenStorage(cfg *config.Config, logger *slog.Logger) (*Env, error) {
	objects, err := client.NewS3Store(&cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	records := store.NewRecordStore(objects, cfg.Storage.ProjectFolder, logger)
	compute := client.NewComputeClient(&cfg.Compute, logger)
	return &Env{
		Records: records,
		Ledger:  ledger.New(records, compute, logger),
		Compute: compute,
	}, nil
}

// NewRootCmd builds the command tree. Every subcommand gets its Env from open
// after the config file named by --config has been loaded.
func NewRootCmd(open Opener) *cobra.Command {
	var (
		configPath string
		verbose    bool
		env        *Env
	)

	root := &cobra.Command{
		Use:   "ledgerctl",
		Short: "Inspect and repair project job ledgers",
		Long: `ledgerctl reads and rewrites the job ledgers the API keeps in object storage.

It talks to storage and the compute service directly, so it works while the
API is down. Run it against the same configuration as the server.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFile(configPath)
			if err != nil {
				return err
			}
			level := logging.ParseLevel(cfg.Server.LogLevel)
			if verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

			env, err = open(cfg, logger)
			return err
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./config.yaml)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	get := func() *Env { return env }
	root.AddCommand(newJobsCmd(get))
	root.AddCommand(newProjectsCmd(get))
	return root
}

// Execute runs ledgerctl against real storage.
func Execute(ctx context.Context) error {
	return NewRootCmd(OpenStorage).ExecuteContext(ctx)
}

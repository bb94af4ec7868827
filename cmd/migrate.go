package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/okian/pagespeed/internal/adapters/repository"
	"github.com/okian/pagespeed/internal/config"
	"github.com/okian/pagespeed/pkg/logger"
)

func newMigrateCmd(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := state.cfg

			if cfg.DBDriver == config.DBDriverMemory {
				fmt.Fprintln(cmd.OutOrStdout(), "db_driver is memory; nothing to migrate")
				return nil
			}

			store, err := repository.Open(ctx, repository.Dialect(cfg.DBDriver), cfg.DBDSN)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.Migrate(ctx); err != nil {
				return err
			}
			state.log.Info(ctx, "migrations applied", logger.String("driver", cfg.DBDriver))
			fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", cfg.DBDriver)
			return nil
		},
	}
}

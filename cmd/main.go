package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/okian/pagespeed/internal/config"
	"github.com/okian/pagespeed/pkg/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// cliState is filled by the root pre-run and shared with subcommands.
type cliState struct {
	cfg *config.Config
	log logger.Logger
}

func newRootCmd() *cobra.Command {
	state := &cliState{}

	root := &cobra.Command{
		Use:   "pagespeed",
		Short: "PageSpeed batch scoring backend",
		Long: `pagespeed scores batches of URLs with Google PageSpeed Insights on mobile
and desktop profiles, stores every result and serves them over HTTP.

Configuration comes from defaults, the YAML file named by PAGESPEED_CONFIG,
a dotenv file (PAGESPEED_ENV_FILE or .env) and PAGESPEED_* variables.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return state.init(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), state)
		},
	}

	root.AddCommand(
		newServeCmd(state),
		newRunCmd(state),
		newMigrateCmd(state),
	)
	return root
}

// init loads configuration and sets up logging.
func (s *cliState) init(cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat), logger.WithOutput(cmd.ErrOrStderr())); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	log := logger.Get()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	s.cfg = cfg
	s.log = log
	return nil
}

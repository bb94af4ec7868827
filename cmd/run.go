package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/okian/pagespeed/internal/domain/model"
)

func newRunCmd(state *cliState) *cobra.Command {
	var (
		rawURLs string
		devices []string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Score a batch of URLs and print the results as JSON",
		Long: `Run one batch from the terminal. Results are stored exactly as for
POST /api/run-pagespeed and count against the same rate limit.

Examples:
  pagespeed run --urls "https://example.com, https://example.org"
  pagespeed run --urls https://example.com --device desktop`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			parsed := make([]model.Device, 0, len(devices))
			for _, d := range devices {
				dev, err := model.ParseDevice(d)
				if err != nil {
					return err
				}
				parsed = append(parsed, dev)
			}

			deps, err := wire(ctx, state.cfg, state.log)
			if err != nil {
				return err
			}
			defer deps.close(state.log)

			svc := deps.service
			if err := svc.Start(ctx); err != nil {
				return err
			}
			defer svc.Stop()

			results, err := svc.RunBatch(ctx, rawURLs, parsed)
			if err != nil {
				return fmt.Errorf("batch failed: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		},
	}

	cmd.Flags().StringVar(&rawURLs, "urls", "", "comma-separated URLs to score")
	cmd.Flags().StringSliceVar(&devices, "device", nil, "device profile: mobile or desktop (repeatable; default both)")
	_ = cmd.MarkFlagRequired("urls")
	return cmd
}

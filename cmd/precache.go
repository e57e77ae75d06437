package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/drsabri-stc/stcedge/internal/app"
)

func precacheCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "precache",
		Short: "Install and activate the configured cache version, then exit",
		Long: "Fetches the core assets and secondary pages into the configured " +
			"storage and deletes stale versions. Useful to warm a shared " +
			"SQL or Redis store before rolling out a new version.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.load(true); err != nil {
				return err
			}
			defer opts.flush()

			a, err := app.New(cmd.Context(), opts.settings, opts.log)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Bootstrap(cmd.Context()); err != nil {
				return err
			}
			status, err := a.Lifecycle.Status(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(status)
		},
	}
}

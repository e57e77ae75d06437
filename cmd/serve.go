package cmd

import (
	"github.com/spf13/cobra"

	"github.com/drsabri-stc/stcedge/internal/app"
	"github.com/drsabri-stc/stcedge/internal/logger"
)

func serveCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the edge cache and API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.load(false); err != nil {
				return err
			}
			defer opts.flush()

			a, err := app.New(cmd.Context(), opts.settings, opts.log)
			if err != nil {
				return err
			}
			defer a.Close()

			opts.log.Info("starting stcedge",
				logger.String("version", Version),
				logger.String("origin", opts.settings.Site.Origin),
				logger.String("namespace", opts.settings.Cache.Namespace()),
				logger.String("storage", opts.settings.Cache.Storage))
			return a.Run(cmd.Context())
		},
	}
}

// Package cmd defines the stcedge command line.
package cmd

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/drsabri-stc/stcedge/internal/conf"
	"github.com/drsabri-stc/stcedge/internal/errors"
	"github.com/drsabri-stc/stcedge/internal/logger"
)

// Version is set at build time with -ldflags "-X ...cmd.Version=...".
var Version = "dev"

type rootOptions struct {
	configPath string
	settings   *conf.Settings
	log        logger.Logger
}

// RootCommand builds the command tree.
func RootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "stcedge",
		Short:         "Offline-first edge cache and web push service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config.yaml")

	root.AddCommand(
		serveCommand(opts),
		precacheCommand(opts),
		notifyCommand(opts),
		vapidCommand(),
	)
	return root
}

// load reads settings, builds the logger and starts error telemetry.
func (o *rootOptions) load(interactive bool) error {
	settings, err := conf.Load(o.configPath)
	if err != nil {
		return err
	}
	o.settings = settings

	level := logger.ParseLevel(settings.Main.LogLevel)
	if interactive || settings.Main.LogFormat == "text" {
		o.log = logger.NewTextLogger(os.Stderr, level, time.Local)
	} else {
		o.log = logger.NewSlogLogger(os.Stdout, level, nil)
	}
	o.log = o.log.With(logger.String("service", settings.Main.Name))

	if settings.Sentry.Enabled {
		if err := errors.InitTelemetry(settings.Sentry.DSN, settings.Main.Name+"@"+Version, settings.Sentry.Environment); err != nil {
			o.log.Warn("sentry initialization failed", logger.Error(err))
		}
	}
	return nil
}

func (o *rootOptions) flush() {
	errors.FlushTelemetry(2 * time.Second)
}

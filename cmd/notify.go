package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/drsabri-stc/stcedge/internal/app"
	"github.com/drsabri-stc/stcedge/internal/push"
)

func notifyCommand(opts *rootOptions) *cobra.Command {
	var msg push.Message

	c := &cobra.Command{
		Use:   "notify",
		Short: "Broadcast a push notification to every subscriber",
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

			report, err := a.Push.Notify(cmd.Context(), msg)
			if err != nil {
				return err
			}
			if report == (push.Report{}) {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "No subscriptions to send to.")
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Notifications sent: %d, Failed: %d, Removed: %d, Remaining: %d\n",
				report.Sent, report.Failed, report.Removed, report.Total)
			return err
		},
	}

	c.Flags().StringVar(&msg.Title, "title", "", "notification title (required)")
	c.Flags().StringVar(&msg.Message, "message", "", "notification body, HTML is reduced to text (required)")
	c.Flags().StringVar(&msg.URL, "url", "", "page opened on click")
	c.Flags().StringVar(&msg.Icon, "icon", "", "icon URL")
	_ = c.MarkFlagRequired("title")
	_ = c.MarkFlagRequired("message")
	return c
}

package cmd

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/drsabri-stc/stcedge/internal/push"
)

func vapidCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "vapid",
		Short: "Generate a VAPID key pair for the push section of config.yaml",
		RunE: func(cmd *cobra.Command, _ []string) error {
			public, private, err := push.GenerateVAPIDKeys()
			if err != nil {
				return err
			}
			out := map[string]map[string]string{
				"push": {
					"vapidpublickey":  public,
					"vapidprivatekey": private,
				},
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			defer enc.Close()
			return enc.Encode(out)
		},
	}
}

package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "replygate",
		Short: "Multi-channel support reply gateway",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.toml (default: $CONFIG_PATH)")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the webhook gateway, worker loop, and admin API",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"kufar_watch/monitor"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Terminal dashboard for pass history, logs and daemon control",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Keep the daemon log out of the alternate screen.
		if logFile != nil {
			logFile.Close()
			logFile = nil
		}
		silenceLog()

		store, err := openStore(context.Background())
		if err != nil {
			return err
		}
		defer store.Close()

		return monitor.Run(store, cfg.Log.Path)
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

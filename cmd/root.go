package cmd

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"kufar_watch/config"
	"kufar_watch/logging"
)

var (
	cfg     *config.Config
	logFile *logging.RotatingWriter
)

var rootCmd = &cobra.Command{
	Use:   "kufar_watch",
	Short: "Kufar listing watcher",
	Long:  "Watches Kufar search pages and notifies subscribers about new listings and price drops.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig(cmd)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logFile != nil {
			logFile.Close()
		}
	},
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("db", "", "SQLite database path (overrides DB_PATH)")
	rootCmd.PersistentFlags().String("database-url", "", "Postgres connection string (overrides DATABASE_URL)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-file", "", "Log file path (overrides LOG_PATH)")
	rootCmd.PersistentFlags().String("proxy", "", "Outbound proxy URL (overrides PROXY_URL)")
	rootCmd.PersistentFlags().Bool("respect-robots", false, "Consult robots.txt before fetching")
}

func initConfig(cmd *cobra.Command) error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	flags := cmd.Flags()
	if v, _ := flags.GetString("db"); v != "" {
		cfg.DBPath = v
	}
	if v, _ := flags.GetString("database-url"); v != "" {
		cfg.DatabaseURL = v
	}
	if v, _ := flags.GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v, _ := flags.GetString("log-file"); v != "" {
		cfg.Log.Path = v
	}
	if v, _ := flags.GetString("proxy"); v != "" {
		cfg.Proxy.URL = v
	}
	if flags.Changed("respect-robots") {
		cfg.Fetch.RespectRobots, _ = flags.GetBool("respect-robots")
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	logFile, err = logging.Setup(cfg.Log.Path, cfg.Log.MaxBytes, cfg.Log.Level)
	if err != nil {
		log.Printf("[warn] could not set up file logging: %v", err)
	}
	return nil
}

func silenceLog() {
	log.SetOutput(io.Discard)
}

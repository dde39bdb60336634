package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"kufar_watch/scheduler"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run periodic passes and process queued commands",
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().Bool("once", false, "Run one pass over all subscribers and exit")
	daemonCmd.Flags().Duration("interval", 0, "Pass interval (overrides SCRAPE_INTERVAL)")
	daemonCmd.Flags().String("cron", "", "Cron expression (overrides SCRAPE_CRON)")
	daemonCmd.Flags().Int("concurrency", 0, "Subscribers processed in parallel (overrides PASS_CONCURRENCY)")
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if v, _ := cmd.Flags().GetDuration("interval"); v > 0 {
		cfg.Scheduler.Interval = v
	}
	if v, _ := cmd.Flags().GetString("cron"); v != "" {
		cfg.Scheduler.Cron = v
	}
	if v, _ := cmd.Flags().GetInt("concurrency"); v > 0 {
		cfg.Scheduler.Concurrency = v
	}

	log.Println("Starting kufar_watch...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := buildApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if once, _ := cmd.Flags().GetBool("once"); once {
		log.Println("Running single pass...")
		if err := a.orchestrator.RunAll(ctx); err != nil {
			return err
		}
		log.Println("Pass complete!")
		return nil
	}

	sched := scheduler.New(cfg.Scheduler, a.orchestrator, a.store)
	if err := sched.Start(ctx); err != nil {
		return err
	}

	log.Println("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	cancel()
	sched.Stop()
	log.Println("Goodbye!")
	return nil
}

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"kufar_watch/models"
)

var runCmd = &cobra.Command{
	Use:   "run [owner]",
	Short: "Run a manual pass for one subscriber",
	Long: "Runs the pipeline for one subscriber and prints the resulting messages.\n" +
		"With --send the messages are delivered to the subscriber's chat instead.\n" +
		"With --queue the pass is handed to a running daemon.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, err := parseOwner(args[0])
		if err != nil {
			return err
		}
		send, _ := cmd.Flags().GetBool("send")
		queue, _ := cmd.Flags().GetBool("queue")

		ctx := context.Background()
		a, err := buildApp(ctx, send)
		if err != nil {
			return err
		}
		defer a.Close()

		if queue {
			if err := a.store.EnqueueCommand(ctx, models.CmdRunOwner, &models.CommandParams{Owner: owner}); err != nil {
				return err
			}
			fmt.Printf("Queued pass for %d\n", owner)
			return nil
		}

		messages, err := a.subscriptions.TriggerManualPass(ctx, owner)
		if err != nil {
			return err
		}
		if send {
			chatID := owner
			if sub, err := a.store.GetSubscriber(ctx, owner); err == nil && sub != nil {
				chatID = sub.ChatID
			}
			n := a.sender.Send(ctx, chatID, messages)
			fmt.Printf("Sent %d of %d messages\n", n, len(messages))
			return nil
		}
		for _, m := range messages {
			fmt.Println(m)
		}
		return nil
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Ask a running daemon to skip periodic passes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return enqueue(models.CmdPause)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Ask a running daemon to resume periodic passes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return enqueue(models.CmdResume)
	},
}

var runAllCmd = &cobra.Command{
	Use:   "run-all",
	Short: "Ask a running daemon to start a pass over all subscribers now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return enqueue(models.CmdRunAll)
	},
}

func init() {
	runCmd.Flags().Bool("send", false, "Deliver messages to the subscriber's chat")
	runCmd.Flags().Bool("queue", false, "Queue the pass for a running daemon")
	runCmd.MarkFlagsMutuallyExclusive("send", "queue")
	rootCmd.AddCommand(runCmd, pauseCmd, resumeCmd, runAllCmd)
}

func enqueue(cmd models.CommandType) error {
	return withApp(func(ctx context.Context, a *app) error {
		if err := a.store.EnqueueCommand(ctx, cmd, nil); err != nil {
			return err
		}
		fmt.Printf("Queued %s\n", cmd)
		return nil
	})
}

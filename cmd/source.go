package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"kufar_watch/services"
)

var sourceCmd = &cobra.Command{
	Use:   "source",
	Short: "Manage watched search URLs",
}

var sourceAddCmd = &cobra.Command{
	Use:   "add [owner] [url]",
	Short: "Watch a Kufar search URL for a subscriber",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, err := parseOwner(args[0])
		if err != nil {
			return err
		}
		return withApp(func(ctx context.Context, a *app) error {
			src, err := a.subscriptions.AddSource(ctx, owner, args[1])
			if err != nil {
				return userError(err)
			}
			fmt.Printf("✅ Ссылка #%d добавлена: %s\n", src.ID, src.URL)
			return nil
		})
	},
}

var sourceListCmd = &cobra.Command{
	Use:   "list [owner]",
	Short: "List a subscriber's watched URLs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, err := parseOwner(args[0])
		if err != nil {
			return err
		}
		return withApp(func(ctx context.Context, a *app) error {
			sources, err := a.subscriptions.ListSources(ctx, owner)
			if err != nil {
				return err
			}
			if len(sources) == 0 {
				fmt.Println("📋 У вас пока нет добавленных ссылок")
				return nil
			}
			fmt.Println("📋 Ваши ссылки:")
			for i, src := range sources {
				fmt.Printf("%d. %s (last id %d)\n", i+1, src.URL, src.Watermark)
			}
			return nil
		})
	},
}

var sourceClearCmd = &cobra.Command{
	Use:   "clear [owner]",
	Short: "Remove all watched URLs of a subscriber",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, err := parseOwner(args[0])
		if err != nil {
			return err
		}
		return withApp(func(ctx context.Context, a *app) error {
			n, err := a.subscriptions.DeleteAllSources(ctx, owner)
			if err != nil {
				return err
			}
			fmt.Printf("🗑 Удалено ссылок: %d\n", n)
			return nil
		})
	},
}

func init() {
	sourceCmd.AddCommand(sourceAddCmd, sourceListCmd, sourceClearCmd)
	rootCmd.AddCommand(sourceCmd)
}

func parseOwner(s string) (int64, error) {
	owner, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid owner id %q", s)
	}
	return owner, nil
}

// withApp builds an app without a live bot and closes it afterwards.
func withApp(fn func(ctx context.Context, a *app) error) error {
	ctx := context.Background()
	a, err := buildApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// userError turns validation failures into the message shown to the user.
func userError(err error) error {
	var vErr *services.ValidationError
	if errors.As(err, &vErr) {
		return fmt.Errorf("❌ %s", vErr.Msg)
	}
	return err
}

package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var filterCmd = &cobra.Command{
	Use:   "filter",
	Short: "Manage a subscriber's price and keyword filter",
}

var filterSetCmd = &cobra.Command{
	Use:   "set [owner]",
	Short: "Replace the filter; omitted bounds are unconstrained",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, err := parseOwner(args[0])
		if err != nil {
			return err
		}

		var minPrice, maxPrice *int
		if cmd.Flags().Changed("min") {
			v, _ := cmd.Flags().GetInt("min")
			minPrice = &v
		}
		if cmd.Flags().Changed("max") {
			v, _ := cmd.Flags().GetInt("max")
			maxPrice = &v
		}
		keywords, _ := cmd.Flags().GetString("keywords")

		return withApp(func(ctx context.Context, a *app) error {
			f, err := a.subscriptions.UpdateFilter(ctx, owner, minPrice, maxPrice, keywords)
			if err != nil {
				return userError(err)
			}
			fmt.Println("✅ Фильтры обновлены")
			fmt.Printf("Цена: %s – %s\n", bound(f.MinPrice), bound(f.MaxPrice))
			if len(f.Keywords) > 0 {
				fmt.Printf("Ключевые слова: %s\n", strings.Join(f.Keywords, ", "))
			}
			return nil
		})
	},
}

func init() {
	filterSetCmd.Flags().Int("min", 0, "Minimum price")
	filterSetCmd.Flags().Int("max", 0, "Maximum price")
	filterSetCmd.Flags().String("keywords", "", "Comma-separated keywords")
	filterCmd.AddCommand(filterSetCmd)
	rootCmd.AddCommand(filterCmd)
}

func bound(v *int) string {
	if v == nil {
		return "любая"
	}
	return fmt.Sprintf("%d", *v)
}

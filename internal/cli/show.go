package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"price-deal-alerts/internal/app"
)

var (
	showLimit   int
	showProduct string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent price observations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:   showLimit,
			Product: showProduct,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of observations to display")
	showCmd.Flags().StringVar(&showProduct, "product", "", "Restrict to one product by name")
}

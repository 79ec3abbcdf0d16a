package cli

import (
	"github.com/spf13/cobra"

	"price-deal-alerts/internal/app"
)

var (
	dealsLimit    int
	dealsCategory string
)

var dealsCmd = &cobra.Command{
	Use:   "deals",
	Short: "Display the current best deals ranking",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.DealsOptions{
			Limit:    dealsLimit,
			Category: dealsCategory,
		}

		return getApp().Deals(cmd.Context(), opts)
	},
}

func init() {
	dealsCmd.Flags().IntVar(&dealsLimit, "limit", 0, "Number of deals to display (defaults to config)")
	dealsCmd.Flags().StringVar(&dealsCategory, "category", "", "Restrict ranking to one category")
}

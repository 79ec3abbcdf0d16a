package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"price-deal-alerts/internal/app"
)

var (
	alertProduct string
	alertTarget  float64
	alertContact string
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Manage price alerts",
}

var alertsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create an alert that fires when a product drops to a target price",
	RunE: func(cmd *cobra.Command, args []string) error {
		if alertProduct == "" {
			return errors.New("--product must be provided")
		}

		opts := app.AlertAddOptions{
			Product:     alertProduct,
			TargetPrice: alertTarget,
			Contact:     alertContact,
		}

		return getApp().AlertAdd(cmd.Context(), opts)
	},
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all alerts and their states",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().AlertList(cmd.Context())
	},
}

var alertsResetCmd = &cobra.Command{
	Use:   "reset <alert-id>",
	Short: "Re-arm a triggered alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().AlertReset(cmd.Context(), args[0])
	},
}

var alertsCancelCmd = &cobra.Command{
	Use:   "cancel <alert-id>",
	Short: "Cancel an alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().AlertCancel(cmd.Context(), args[0])
	},
}

func init() {
	alertsAddCmd.Flags().StringVar(&alertProduct, "product", "", "Product name to watch")
	alertsAddCmd.Flags().Float64Var(&alertTarget, "target", 0, "Target price that fires the alert")
	alertsAddCmd.Flags().StringVar(&alertContact, "contact", "", "Contact to notify")

	alertsCmd.AddCommand(alertsAddCmd)
	alertsCmd.AddCommand(alertsListCmd)
	alertsCmd.AddCommand(alertsResetCmd)
	alertsCmd.AddCommand(alertsCancelCmd)
}

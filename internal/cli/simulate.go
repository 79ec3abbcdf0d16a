package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateProduct string
	simulatePrice   float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一条价格观测并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateProduct == "" {
			return errors.New("--product 必须提供")
		}
		if simulatePrice <= 0 {
			return errors.New("--price 必须大于 0")
		}

		price := decimal.NewFromFloat(simulatePrice)
		return getApp().SimulateAlert(cmd.Context(), simulateProduct, price)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateProduct, "product", "", "商品名称")
	simulateCmd.Flags().Float64Var(&simulatePrice, "price", 0, "模拟观测价格")
}

/*
Copyright © 2026 Michael Putera Wardana <michaelputeraw@gmail.com>
*/
package cmd

import (
	"github.com/gamestock/gamestock-service/internal/bootstrap"
	"github.com/spf13/cobra"
)

// tradingGatewayCmd represents the tradingGateway command
var tradingGatewayCmd = &cobra.Command{
	Use:   "trading-gateway",
	Short: "serve the trading and market HTTP API",
	Long:  `serve the trading and market HTTP API`,
	Run:   bootstrap.StartTradingGateway,
}

func init() {
	rootCmd.AddCommand(tradingGatewayCmd)
}

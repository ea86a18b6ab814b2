/*
Copyright © 2026 Michael Putera Wardana <michaelputeraw@gmail.com>
*/
package cmd

import (
	"github.com/krobus00/order-executor/internal/bootstrap"
	"github.com/spf13/cobra"
)

// executorGatewayCmd represents the executorGateway command
var executorGatewayCmd = &cobra.Command{
	Use:   "executor-gateway",
	Short: "Start the Executor Gateway service",
	Long: `The Executor Gateway accepts order batches over HTTP, executes them
against the configured venues and persists the terminal execution
reports. Order lifecycle events stream to JetStream and the operator
summary goes to Telegram.`,
	Run: bootstrap.StartExecutorGateway,
}

func init() {
	rootCmd.AddCommand(executorGatewayCmd)
}

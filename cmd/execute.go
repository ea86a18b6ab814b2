/*
Copyright © 2026 Michael Putera Wardana <michaelputeraw@gmail.com>
*/
package cmd

import (
	"github.com/krobus00/order-executor/internal/bootstrap"
	"github.com/spf13/cobra"
)

// executeCmd represents the execute command
var executeCmd = &cobra.Command{
	Use:   "execute",
	Short: "Execute one order batch from a file and exit",
	Long:  `Execute runs a single batch of orders described in a JSON file without starting the gateway.`,
	Run:   bootstrap.StartExecuteBatch,
}

func init() {
	rootCmd.AddCommand(executeCmd)
	executeCmd.PersistentFlags().String("file", "", "path to the batch JSON file")
}

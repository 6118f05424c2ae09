/*
Copyright © 2026 Michael Putera Wardana <michaelputeraw@gmail.com>
*/
package cmd

import (
	"github.com/gamestock/gamestock-service/internal/bootstrap"
	"github.com/spf13/cobra"
)

// seedCmd represents the seed command
var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "seed development catalog items and a demo account",
	Long:  `seed development catalog items and a demo account`,
	Run:   bootstrap.StartSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

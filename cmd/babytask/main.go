// Package main provides the CLI entry point for babytask.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/minigrid/babytask/cmd/babytask/commands"
)

var version = "0.1.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "babytask",
	Short: "Task-embedding VAE training pipeline",
	Long: `babytask trains a variational task encoder and decoder pair over
grid-world transition datasets.

It provides:
  - A sequential VAE over (observation, action, reward) transitions
  - Resumable training runs with csv logs, checkpoints and loss curves
  - Query-encoder distillation and embedding export
  - An optional sqlite run store for experiment tracking`,
	Version: version,
}

func init() {
	rootCmd.AddCommand(commands.TrainCmd)
	rootCmd.AddCommand(commands.EvalCmd)
	rootCmd.AddCommand(commands.DescribeCmd)
}

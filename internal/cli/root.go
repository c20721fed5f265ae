// Package cli implements the gpuwatch command line using Cobra.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "./config.json"

// NewRootCmd builds the command tree.
func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "gpuwatch",
		Short: "Watch GPU availability and push a notice when it changes",
		Long: `gpuwatch polls the local GPUs every minute, decides whether the host is
free or busy, and pushes a notification to every configured recipient when
that flips. A heartbeat with the current time goes out every two hours
during the working day.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	root.PersistentFlags().StringP("config", "c", defaultConfigPath, "path to config (.json, .yaml, .toml)")

	root.AddCommand(
		newRunCmd(),
		newProbeCmd(),
		newSendCmd(),
		newVersionCmd(version),
	)
	return root
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	if err := NewRootCmd(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func configPath(cmd *cobra.Command) string {
	p, err := cmd.Flags().GetString("config")
	if err != nil || p == "" {
		return defaultConfigPath
	}
	return p
}

// Package cmd wires the openpalm CLI. One binary runs every process:
// the guardian, the channel adapter set, and the admin control plane
// are subcommands selected by the compose file.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X github.com/openpalm/openpalm/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "openpalm",
	Short: "OpenPalm — self-hosted personal assistant gateway",
	Long:  "OpenPalm runs a personal AI assistant behind a guardian trust boundary, with channel adapters for APIs and messengers and an admin control plane that manages the container stack.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: openpalm config.yaml or $OPENPALM_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(guardianCmd())
	rootCmd.AddCommand(channelsCmd())
	rootCmd.AddCommand(adminCmd())
	rootCmd.AddCommand(renderCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("openpalm %s\n", Version)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("OPENPALM_CONFIG"); v != "" {
		return v
	}
	return "config.yaml"
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

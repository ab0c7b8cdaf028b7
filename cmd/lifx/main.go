// Lifx talks to LIFX devices on the local network using the LAN protocol.
//
// It discovers devices, sends any message in the protocol catalogue and
// prints the replies, and converts packets to and from their wire bytes.
//
// Usage:
//
//	lifx [command] [flags]
//
// Transport and discovery settings come from the configuration file (see
// 'lifx --help' for its location). Set LIFXLAN_LOG_LEVEL=debug to see every
// packet on the wire.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/lifxlan/internal/config"
	"github.com/muurk/lifxlan/internal/logging"
	"github.com/muurk/lifxlan/internal/version"
)

func main() {
	err := rootCmd.Execute()
	logging.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Global flags
var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "lifx",
	Short: "LIFX LAN protocol utility",
	Long: `A command line client for the LIFX LAN protocol.

Discovers devices with a broadcast GetService (optionally helped by mDNS),
sends any message in the catalogue to one or more devices, and packs or
unpacks raw packets.

Settings are read from the configuration file, YAML or TOML by extension.
HARDCODED_DISCOVERY and SERIAL_FILTER in the environment override its
discovery section.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Initialize(logLevel)
	},
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file (default is the user config dir)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); defaults to $"+logging.LogLevelEnvVar)

	rootCmd.AddCommand(versionCmd)
}

// loadConfig returns the registry named by --config, or the default one.
func loadConfig() (*config.Registry, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.LoadRegistry()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.String("lifx"))
	},
}

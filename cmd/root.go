// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Halocline Dive Systems

package cmd

import (
	"github.com/spf13/cobra"

	// Vendor backends register themselves on import.
	_ "github.com/halocline-dive/halocline/pkg/deepblu"
	_ "github.com/halocline-dive/halocline/pkg/mclean"
	_ "github.com/halocline-dive/halocline/pkg/oceans1"
	_ "github.com/halocline-dive/halocline/pkg/scubaprog2"
)

var (
	// Config file flag
	configPath string

	// Backend selection flag
	backendName string

	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Filesystem mount flag (garmin backend)
	mountPath string
)

var rootCmd = &cobra.Command{
	Use:   "halocline",
	Short: "Dive computer download tool",
	Long: `Halocline - A CLI tool for downloading and decoding dive logs from
supported dive computers.

Provides commands for downloading dives into portable CBOR logbooks, raw
memory dumps, device clock synchronization and backend discovery.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the
HALOCLINE_PASSWORD environment variable, or prompted interactively if not
set. The --password flag is intentionally not provided to avoid leaking
credentials in shell history.`,
	Version: "1.0.0",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return applyConfig(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.config/halocline/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&backendName, "backend", "", "Dive computer backend (see 'halocline backends')")

	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket bridge URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Filesystem mount flag
	rootCmd.PersistentFlags().StringVar(&mountPath, "mount", "", "Mount point of a mass-storage device (garmin backend)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

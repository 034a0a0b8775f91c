// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Halocline Dive Systems

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/halocline-dive/halocline/pkg/divecom"
)

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List supported dive computer backends",
	Long: `List every backend this build supports, with the name to pass to
--backend.

Transport backends talk to the device over --port or --url. The garmin
backend instead reads a watch mounted as USB mass storage via --mount.`,
	RunE: runBackends,
}

func init() {
	rootCmd.AddCommand(backendsCmd)
}

func runBackends(cmd *cobra.Command, args []string) error {
	fmt.Printf("%-14s %s\n", "NAME", "DESCRIPTION")
	for _, b := range divecom.Backends() {
		fmt.Printf("%-14s %s\n", b.Name, b.Description)
	}
	// Filesystem-based, so never in the transport registry.
	fmt.Printf("%-14s %s\n", "garmin", "Garmin Descent watch (USB mass storage, use --mount)")
	return nil
}

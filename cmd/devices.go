// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Halocline Dive Systems

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.bug.st/serial"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List local serial ports",
	Long: `List the serial ports available on this machine. Pass one of them to
--port when connecting to a dive computer over serial.`,
	RunE: runDevices,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

func runDevices(cmd *cobra.Command, args []string) error {
	ports, err := serial.GetPortsList()
	if err != nil {
		return fmt.Errorf("enumerating serial ports: %v", err)
	}

	if len(ports) == 0 {
		fmt.Println("No serial ports found.")
		return nil
	}

	for _, p := range ports {
		fmt.Println(p)
	}
	return nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Halocline Dive Systems

package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/halocline-dive/halocline/pkg/divecom"
)

var timesyncCmd = &cobra.Command{
	Use:   "timesync",
	Short: "Set the device clock to the host clock",
	Long: `Synchronize the dive computer's clock with the host.

Not every device accepts a clock write; backends without the capability
report it as unsupported.

Examples:
  halocline timesync --backend deepblu --port /dev/ttyUSB0`,
	RunE: runTimesync,
}

func init() {
	rootCmd.AddCommand(timesyncCmd)
}

func runTimesync(cmd *cobra.Command, args []string) error {
	sink := func(ev divecom.Event) {
		if ci, ok := ev.(divecom.ClockEvent); ok {
			fmt.Fprintf(os.Stderr, "Device clock before sync: %d (host %s)\n",
				ci.DevTime, ci.SysTime.Format(time.RFC3339))
		}
	}

	dev, backend, info, err := openDevice(sink)
	if err != nil {
		return err
	}
	defer dev.Close()

	fmt.Fprintf(os.Stderr, "Connected: %s (%s)\n", info, backend.Name)

	now := time.Now()
	if err := dev.TimeSync(now); err != nil {
		if errors.Is(err, divecom.ErrUnsupported) {
			return fmt.Errorf("backend %s does not support setting the clock", backend.Name)
		}
		return err
	}

	fmt.Printf("Device clock set to %s\n", now.Format(time.RFC3339))
	return nil
}

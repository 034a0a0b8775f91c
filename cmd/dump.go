// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Halocline Dive Systems

package cmd

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/halocline-dive/halocline/pkg/divecom"
)

var dumpOutput string

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Download raw device memory to a file",
	Long: `Read the device's full dive log memory and write the raw bytes to a
file, without decoding. Useful for archiving, debugging a backend, or
feeding memory images to offline tooling.

Examples:
  halocline dump --backend scubapro-g2 --port /dev/ttyUSB0 -o g2.bin`,
	RunE: runDump,
}

func init() {
	rootCmd.AddCommand(dumpCmd)
	dumpCmd.Flags().StringVarP(&dumpOutput, "output", "o", "memory.bin", "Output file")
}

func runDump(cmd *cobra.Command, args []string) error {
	sink := func(ev divecom.Event) {
		switch ev := ev.(type) {
		case divecom.ProgressEvent:
			if ev.Maximum > 0 {
				fmt.Fprintf(os.Stderr, "\rDownloading: %3d%%", ev.Current*100/ev.Maximum)
			}
		case divecom.DevinfoEvent:
			fmt.Fprintf(os.Stderr, "Device: model=%d firmware=%d serial=%d\n",
				ev.Model, ev.Firmware, ev.Serial)
		}
	}

	dev, backend, info, err := openDevice(sink)
	if err != nil {
		return err
	}
	defer dev.Close()

	fmt.Fprintf(os.Stderr, "Connected: %s (%s)\n", info, backend.Name)

	var buf bytes.Buffer
	if err := dev.Dump(&buf); err != nil {
		fmt.Fprintln(os.Stderr)
		return err
	}
	fmt.Fprintln(os.Stderr)

	if err := os.WriteFile(dumpOutput, buf.Bytes(), 0o644); err != nil {
		return err
	}

	fmt.Printf("Wrote %d bytes to %s\n", buf.Len(), dumpOutput)
	return nil
}

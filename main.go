// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Halocline Dive Systems
//
// Halocline - dive computer download tool
//
// A CLI tool for downloading, decoding and exporting dive logs from
// supported dive computers.

package main

import (
	"os"

	"github.com/halocline-dive/halocline/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

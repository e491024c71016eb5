// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Tuyastat - Tuya MCU Serial Protocol Analyzer
//
// A CLI tool for monitoring, decoding and driving the Tuya MCU-WiFi
// serial protocol.

package main

import (
	"os"

	"github.com/Thermoquad/tuyastat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

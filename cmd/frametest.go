// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/tuyastat/pkg/tuya"
)

var (
	frameTestTimeout int
)

var frameTestCmd = &cobra.Command{
	Use:   "frame_test",
	Short: "Test connection by waiting for a valid Tuya frame",
	Long: `Wait for a valid Tuya MCU frame on the connection until timeout.

This command connects to a serial port or WebSocket and waits for any valid
Tuya protocol frame. It ignores invalid bytes and waits for a complete,
valid frame (passing the checksum).

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error

Useful for checking wiring and baud rate before running the monitor. An idle
MCU may stay silent until a module heartbeat is sent; use monitor for that.`,
	RunE: runFrameTest,
}

func init() {
	rootCmd.AddCommand(frameTestCmd)
	frameTestCmd.Flags().IntVar(&frameTestTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
}

func runFrameTest(cmd *cobra.Command, args []string) error {
	// Open connection (serial or WebSocket)
	conn, connInfo, err := OpenConnection(cmd.Context())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Tuyastat - Frame Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", frameTestTimeout)
	fmt.Printf("Waiting for valid Tuya frame...\n\n")

	receiver := tuya.NewReceiver()
	buf := make([]byte, 128)

	// Channel for frame reception
	frameChan := make(chan tuya.Frame, 1)
	errChan := make(chan error, 1)

	// Reader goroutine
	go func() {
		rejected := 0
		for {
			n, err := conn.Read(buf)
			if err != nil {
				errChan <- err
				return
			}

			for i := 0; i < n; i++ {
				receiver.Feed(buf[i])
				for {
					frame, ok, decodeErr := receiver.Next()
					if decodeErr != nil {
						// Ignore framing errors, just count them
						rejected++
						continue
					}
					if !ok {
						break
					}
					// Got a valid frame!
					if rejected > 0 {
						fmt.Printf("(rejected %d bad frames before sync)\n", rejected)
					}
					frameChan <- frame
					return
				}
			}
		}
	}()

	// Wait for frame or timeout
	select {
	case frame := <-frameChan:
		fmt.Printf("SUCCESS: Received valid frame\n")
		fmt.Printf("  Command: %s (0x%02X)\n", frame.Command, byte(frame.Command))
		fmt.Printf("  Version: 0x%02X\n", frame.Version)
		fmt.Printf("  Length: %d bytes\n", len(frame.Payload))
		fmt.Printf("  Checksum: 0x%02X\n", tuya.Checksum(frame.Bytes()[:tuya.HeaderSize+len(frame.Payload)]))
		os.Exit(0)

	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)

	case <-cmd.Context().Done():
		fmt.Fprintf(os.Stderr, "Interrupted\n")
		os.Exit(1)

	case <-time.After(time.Duration(frameTestTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", frameTestTimeout)
		os.Exit(1)
	}

	return nil
}

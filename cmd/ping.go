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
	pingTimeout int
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Send heartbeats to the MCU and measure the reply time",
	Long: `Send HEARTBEAT frames to the MCU and wait for its HEARTBEAT reply.

The first reply after an MCU reset carries 0x00, later replies carry 0x01, so
ping also shows whether the MCU restarted since the last heartbeat it saw.

This is useful for verifying:
  - Wiring and baud rate in both directions
  - WebSocket bridges forward module frames to the MCU
  - The MCU firmware runs the Tuya protocol

Exit codes:
  0 - All pings answered
  1 - One or more pings failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 3, "Timeout in seconds for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

func runPing(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	conn, connInfo, err := OpenConnection(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()
	closeOnDone(ctx, conn)

	fmt.Printf("Tuyastat - Heartbeat Ping\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	frames, readErr := readFrames(ctx, conn)
	successCount := 0
	failCount := 0

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		start := time.Now()
		if err := writeFrame(conn, tuya.CmdHeartbeat, nil); err != nil {
			fmt.Printf("SEND FAILED: %v\n", err)
			failCount++
			continue
		}

		timeout := time.After(time.Duration(pingTimeout) * time.Second)
	wait:
		for {
			select {
			case frame := <-frames:
				// Skip anything else the MCU reports meanwhile
				if frame.Command != tuya.CmdHeartbeat {
					continue
				}
				rtt := time.Since(start).Round(time.Millisecond)
				switch {
				case len(frame.Payload) == 1 && frame.Payload[0] == 0x00:
					fmt.Printf("HEARTBEAT from MCU ver=0x%02X, first since reset, rtt=%v\n", frame.Version, rtt)
				default:
					fmt.Printf("HEARTBEAT from MCU ver=0x%02X, rtt=%v\n", frame.Version, rtt)
				}
				successCount++
				break wait

			case err := <-readErr:
				fmt.Printf("READ FAILED: %v\n", err)
				failCount += pingCount - i + 1
				i = pingCount
				break wait

			case <-ctx.Done():
				fmt.Printf("interrupted\n")
				failCount += pingCount - i + 1
				i = pingCount
				break wait

			case <-timeout:
				fmt.Printf("TIMEOUT (no reply in %ds)\n", pingTimeout)
				failCount++
				break wait
			}
		}

		// Small delay between pings
		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	// Summary
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d replies received, %.0f%% loss\n",
		pingCount, successCount, float64(failCount)/float64(pingCount)*100)

	if failCount > 0 {
		conn.Close()
		os.Exit(1)
	}
	return nil
}

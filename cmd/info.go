// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/tuyastat/pkg/tuya"
)

var (
	infoTimeout int
	infoDPWait  time.Duration
	infoNoDPs   bool
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Query the MCU product information and data points",
	Long: `Query the MCU for its product information, then ask it to report every
data point.

Sequence:
  1. HEARTBEAT         wait for the MCU to answer
  2. PRODUCT_INFO      print product ID, MCU version and the optional fields
  3. STATE_QUERY       collect STATE_UPLOAD reports for --dp-wait

Unlike monitor, info does not keep the link up: no further heartbeats are sent
after the query.

Exit codes:
  0 - Product information received
  1 - No reply or unusable product information
  2 - Connection error`,
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().IntVar(&infoTimeout, "timeout", 5, "Timeout in seconds for each query")
	infoCmd.Flags().DurationVar(&infoDPWait, "dp-wait", 2*time.Second, "How long to collect data point reports")
	infoCmd.Flags().BoolVar(&infoNoDPs, "no-dps", false, "Skip the data point query")
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	conn, connInfo, err := OpenConnection(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()
	closeOnDone(ctx, conn)

	fmt.Printf("Tuyastat - Product Info\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n\n", infoTimeout)

	frames, readErr := readFrames(ctx, conn)
	timeout := time.Duration(infoTimeout) * time.Second

	// await sends a query and returns the first reply with the same command code
	await := func(query tuya.Command, payload []byte) (tuya.Frame, bool) {
		fmt.Printf("Sending %s...\n", query)
		if err := writeFrame(conn, query, payload); err != nil {
			fmt.Printf("SEND FAILED: %v\n", err)
			conn.Close()
			os.Exit(2)
		}
		deadline := time.After(timeout)
		for {
			select {
			case frame := <-frames:
				if frame.Command == query {
					return frame, true
				}
			case err := <-readErr:
				fmt.Printf("READ FAILED: %v\n", err)
				conn.Close()
				os.Exit(2)
			case <-ctx.Done():
				return tuya.Frame{}, false
			case <-deadline:
				fmt.Printf("TIMEOUT: no %s reply in %ds\n", query, infoTimeout)
				return tuya.Frame{}, false
			}
		}
	}

	if _, ok := await(tuya.CmdHeartbeat, nil); !ok {
		conn.Close()
		os.Exit(1)
	}

	frame, ok := await(tuya.CmdProductInfo, nil)
	if !ok {
		conn.Close()
		os.Exit(1)
	}
	info, err := tuya.ParseProductInfo(frame.Payload)
	printProductInfoFields(info, frame.Payload)
	if err != nil {
		fmt.Printf("\nUnusable product information: %v\n", err)
		conn.Close()
		os.Exit(1)
	}

	if infoNoDPs {
		return nil
	}

	// Data point reports
	fmt.Printf("\nSending %s...\n", tuya.CmdStateQuery)
	if err := writeFrame(conn, tuya.CmdStateQuery, nil); err != nil {
		fmt.Printf("SEND FAILED: %v\n", err)
		conn.Close()
		os.Exit(2)
	}

	dps := make(map[uint8]tuya.DataPoint)
	deadline := time.After(infoDPWait)
collect:
	for {
		select {
		case frame := <-frames:
			if frame.Command != tuya.CmdStateUpload {
				continue
			}
			reported, err := tuya.DecodeDataPoints(frame.Payload)
			if err != nil {
				fmt.Printf("  Malformed report: %v\n", err)
			}
			for _, dp := range reported {
				dps[dp.ID] = dp
			}
		case err := <-readErr:
			fmt.Printf("READ FAILED: %v\n", err)
			break collect
		case <-ctx.Done():
			break collect
		case <-deadline:
			break collect
		}
	}

	ids := make([]int, 0, len(dps))
	for id := range dps {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	fmt.Printf("\n--- Data points ---\n")
	if len(ids) == 0 {
		fmt.Printf("No data points reported in %s\n", infoDPWait)
	}
	for _, id := range ids {
		fmt.Printf("%s\n", tuya.FormatDataPoint(dps[uint8(id)]))
	}
	return nil
}

// printProductInfoFields prints every field found in a product info reply
func printProductInfoFields(info tuya.ProductInfo, raw []byte) {
	optional := func(name string, v int) {
		if v >= 0 {
			fmt.Printf("  %-12s %d\n", name+":", v)
		}
	}

	fmt.Printf("\n--- Product info ---\n")
	fmt.Printf("  %-12s %s\n", "Product ID:", info.ProductID)
	fmt.Printf("  %-12s %s\n", "Version:", info.Version)
	optional("Mode", info.M)
	optional("MCU type", info.MT)
	optional("N", info.N)
	optional("Low power", info.Low)
	if info.IR != "" {
		fmt.Printf("  %-12s %s\n", "IR:", info.IR)
	}
	fmt.Printf("  %-12s %q\n", "Raw:", raw)
}

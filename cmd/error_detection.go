// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/tuyastat/pkg/tuya"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
)

var errorDetectionCmd = &cobra.Command{
	Use:   "error_detection",
	Short: "Detect and analyze malformed frames and errors",
	Long: `Track frame errors, malformed data points and anomalous values with statistics.

This command validates each frame and detects:
  - Checksum errors and impossible frame lengths
  - Malformed data points (truncated records, wrong length for the type)
  - Unknown commands and unknown data point types
  - Invalid values (out of range WiFi status)
  - Statistics and trends (frame rate, error rate, success rate)

By default, only errors are displayed. Use --show-all to display valid frames too.

Frames are validated in real-time, with errors highlighted immediately and
periodic statistics summaries displayed at configurable intervals.`,
	RunE: runErrorDetection,
}

func init() {
	rootCmd.AddCommand(errorDetectionCmd)
	errorDetectionCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all frames (not just errors)")
	errorDetectionCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	errorDetectionCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
}

func runErrorDetection(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	conn, connInfo, err := OpenConnection(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	closeOnDone(ctx, conn)

	if useTUI {
		return runTUIMode(ctx, conn, connInfo)
	}
	return runTextMode(ctx, conn, connInfo)
}

// frameEvent is one decoder result: a frame with its validation errors or a framing error
type frameEvent struct {
	frame            *tuya.Frame
	decodeErr        error
	validationErrors []tuya.ValidationError
}

// syncTracker ignores framing errors until the first valid frame
type syncTracker struct {
	receiver     *tuya.Receiver
	synchronized bool
	rejected     int
}

func newSyncTracker() *syncTracker {
	return &syncTracker{receiver: tuya.NewReceiver()}
}

// feed decodes one byte and calls emit for every result after sync.
// onSync is called once with the number of errors seen before sync.
func (s *syncTracker) feed(b byte, emit func(frameEvent), onSync func(rejected int)) {
	s.receiver.Feed(b)
	for {
		frame, ok, err := s.receiver.Next()
		if err != nil {
			if s.synchronized {
				emit(frameEvent{decodeErr: err})
			} else {
				s.rejected++
			}
			continue
		}
		if !ok {
			return
		}

		if !s.synchronized {
			s.synchronized = true
			onSync(s.rejected)
		}
		emit(frameEvent{frame: &frame, validationErrors: tuya.ValidateFrame(frame)})
	}
}

// readLink forwards link bytes until ctx ends or the link closes
func readLink(ctx context.Context, conn Connection, out chan<- []byte) {
	buf := make([]byte, 128)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case out <- data:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			if ctx.Err() != nil || isClosed(err) {
				close(out)
				return
			}
			logger.Warn("read error", zap.Error(err))
		}
	}
}

// printDecodeError prints a framing error in highlighted format
func printDecodeError(err error) {
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;31mFRAMING ERROR:\033[0m %v\n", timestamp, err)
	fmt.Printf("  >>> FRAME DROPPED <<<\n\n")
}

// printProductInfo prints the MCU product information
func printProductInfo(frame *tuya.Frame) {
	timestamp := frame.Timestamp.Format("15:04:05.000")
	info, err := tuya.ParseProductInfo(frame.Payload)
	if err != nil {
		fmt.Printf("[%s] \033[1;32mPRODUCT_INFO:\033[0m %v (%q)\n\n", timestamp, err, frame.Payload)
		return
	}
	fmt.Printf("[%s] \033[1;32mPRODUCT_INFO:\033[0m product %s, MCU version %s\n\n", timestamp, info.ProductID, info.Version)
}

// printValidationErrors prints validation errors for a frame
func printValidationErrors(frame *tuya.Frame, errors []tuya.ValidationError) {
	timestamp := frame.Timestamp.Format("15:04:05.000")

	fmt.Printf("[%s] \033[1;33mVALIDATION ERROR:\033[0m %s (0x%02X)\n", timestamp, frame.Command, byte(frame.Command))
	fmt.Printf("  Checksum: \033[1;32mOK\033[0m\n")

	for i, err := range errors {
		switch err.Type {
		case tuya.AnomalyLengthMismatch:
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, err.Message)
			if expected, ok := err.Details["expected"].(int); ok {
				fmt.Printf("    Length: received=%v, expected=%d\n", err.Details["length"], expected)
			} else if limit, ok := err.Details["max"].(int); ok {
				fmt.Printf("    Length: received=%v, max=%d\n", err.Details["length"], limit)
			}

		case tuya.AnomalyMalformedDP:
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, err.Message)
			if decoded, ok := err.Details["decoded"].(int); ok {
				fmt.Printf("    Decoded %d data points from %v payload bytes\n", decoded, err.Details["length"])
			}

		case tuya.AnomalyUnknownType, tuya.AnomalyUnknownCommand, tuya.AnomalyInvalidValue:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, err.Message)

		default:
			fmt.Printf("  Issue %d: %s\n", i+1, err.Message)
		}
	}

	if len(frame.Payload) > 0 {
		fmt.Printf("  Payload: % X\n", frame.Payload)
	}
	fmt.Printf("  >>> FRAME REJECTED <<<\n\n")
}

// runTUIMode runs error detection in TUI mode
func runTUIMode(ctx context.Context, conn Connection, connInfo string) error {
	tracker := newSyncTracker()

	// Create TUI program
	m := initialModel(connInfo, statsInterval, showAll)
	p := tea.NewProgram(m, tea.WithContext(ctx))

	// Link reader goroutine
	data := make(chan []byte, 10)
	go readLink(ctx, conn, data)
	go func() {
		for chunk := range data {
			for _, b := range chunk {
				tracker.feed(b,
					func(ev frameEvent) { p.Send(ev) },
					func(rejected int) { p.Send(syncMsg{rejected: rejected}) },
				)
			}
		}
		p.Send(linkClosedMsg{})
	}()

	// Run TUI
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("TUI error: %w", err)
	}

	return nil
}

// runTextMode runs error detection in text mode
func runTextMode(ctx context.Context, conn Connection, connInfo string) error {
	fmt.Printf("Tuyastat - Error Detection Mode\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All frames\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	tracker := newSyncTracker()
	stats := tuya.NewStatistics()

	// Statistics ticker
	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	// Channel for non-blocking link reads
	data := make(chan []byte, 10)
	go readLink(ctx, conn, data)

	emit := func(ev frameEvent) {
		if ev.decodeErr != nil {
			stats.Update(nil, ev.decodeErr, nil)
			printDecodeError(ev.decodeErr)
			return
		}

		stats.Update(ev.frame, nil, ev.validationErrors)

		// Print frame or error based on mode
		switch {
		case len(ev.validationErrors) > 0:
			printValidationErrors(ev.frame, ev.validationErrors)
		case ev.frame.Command == tuya.CmdProductInfo:
			// Always print product info (identifies the MCU)
			printProductInfo(ev.frame)
		case showAll:
			fmt.Print(tuya.FormatFrame(*ev.frame))
		}
	}
	onSync := func(rejected int) {
		if rejected > 0 {
			fmt.Printf("[SYNC] Synchronized after rejecting %d bad frames\n\n", rejected)
		} else {
			fmt.Printf("[SYNC] Synchronized\n\n")
		}
	}

	for {
		select {
		case chunk, ok := <-data:
			if !ok {
				fmt.Println()
				fmt.Print(stats.String())
				return nil
			}
			for _, b := range chunk {
				tracker.feed(b, emit, onSync)
			}

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()

		case <-ctx.Done():
			fmt.Println()
			fmt.Print(stats.String())
			return nil
		}
	}
}

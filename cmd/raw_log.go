// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/tuyastat/pkg/capture"
	"github.com/Thermoquad/tuyastat/pkg/tuya"
)

var rawLogRecord string

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw frame log in human-readable format",
	Long: `Continuously decode and display Tuya MCU protocol frames as they arrive.

This command is a passive sniffer: it never writes to the link. Each frame is
shown with timestamp, command, version and decoded payload. Data points in
STATE_UPLOAD and DATA_QUERY frames are decoded by type.

With --record, every frame and framing error is also written to a CBOR capture
file that can be played back with the replay command.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().StringVar(&rawLogRecord, "record", "", "Write a capture file")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	// Open connection (serial or WebSocket)
	ctx := cmd.Context()
	conn, connInfo, err := OpenConnection(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	closeOnDone(ctx, conn)

	var recorder *capture.Writer
	if rawLogRecord != "" {
		f, err := os.Create(rawLogRecord)
		if err != nil {
			return fmt.Errorf("failed to create capture file: %w", err)
		}
		defer f.Close()

		recorder, err = capture.NewWriter(f, connInfo, cfg.Link.Baud)
		if err != nil {
			return err
		}
		logger.Info("recording capture",
			zap.String("file", rawLogRecord),
			zap.String("session", recorder.Header().Session),
		)
	}

	fmt.Printf("Tuyastat - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	receiver := tuya.NewReceiver()
	buf := make([]byte, 128)

	for {
		n, err := conn.Read(buf)
		if err != nil {
			// A closed link will not come back - exit gracefully
			if ctx.Err() != nil || isClosed(err) {
				logger.Info("connection closed")
				return nil
			}
			logger.Warn("read error", zap.Error(err))
			continue
		}

		for i := 0; i < n; i++ {
			receiver.Feed(buf[i])
			for {
				frame, ok, err := receiver.Next()
				if err != nil {
					fmt.Printf("[ERROR] %v\n", err)
					record(recorder, capture.Record{Error: err.Error()})
					continue
				}
				if !ok {
					break
				}
				fmt.Print(tuya.FormatFrame(frame))
				record(recorder, capture.Record{Frame: frame.Bytes()})
			}
		}
	}
}

// record appends a received frame or error to the capture, if one is open
func record(w *capture.Writer, rec capture.Record) {
	if w == nil {
		return
	}
	rec.Direction = capture.DirectionRx
	if rec.Time == 0 {
		rec.Time = time.Now().UnixMicro()
	}
	if err := w.WriteRecord(rec); err != nil {
		logger.Error("capture write failed", zap.Error(err))
	}
}

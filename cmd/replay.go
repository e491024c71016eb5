// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/tuyastat/pkg/capture"
	"github.com/Thermoquad/tuyastat/pkg/tuya"
)

var (
	replayStats      bool
	replayErrorsOnly bool
	replayRealtime   bool
)

var replayCmd = &cobra.Command{
	Use:   "replay FILE",
	Short: "Play back a capture file",
	Long: `Decode and display the frames of a capture written by raw_log --record or
monitor --record, in the same format as raw_log.

Frames sent by the module side are marked TX. Recorded framing errors are
shown in place. With --realtime the original timing between records is kept.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().BoolVar(&replayStats, "stats", false, "Print statistics at the end")
	replayCmd.Flags().BoolVar(&replayErrorsOnly, "errors-only", false, "Only show errors and rejected frames")
	replayCmd.Flags().BoolVar(&replayRealtime, "realtime", false, "Replay with the recorded timing")
}

func runReplay(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	defer f.Close()

	stats, err := replayCapture(f, os.Stdout, replayOptions{
		errorsOnly: replayErrorsOnly,
		realtime:   replayRealtime,
		done:       cmd.Context().Done(),
	})
	if err != nil {
		return err
	}
	if replayStats {
		fmt.Println()
		fmt.Print(stats.String())
	}
	return nil
}

type replayOptions struct {
	errorsOnly bool
	realtime   bool
	done       <-chan struct{}
}

// replayCapture prints every record of a capture and returns statistics over the received side
func replayCapture(in io.Reader, out io.Writer, opts replayOptions) (*tuya.Statistics, error) {
	r, err := capture.NewReader(in)
	if err != nil {
		return nil, err
	}

	h := r.Header()
	fmt.Fprintf(out, "Tuyastat - Capture Replay\n")
	fmt.Fprintf(out, "Session: %s\n", h.Session)
	if h.Source != "" {
		fmt.Fprintf(out, "Source: %s\n", h.Source)
	}
	fmt.Fprintf(out, "Started: %s\n\n", h.StartTime().Format("2006-01-02 15:04:05.000"))

	stats := tuya.NewStatistics()
	var last time.Time

	for n := 0; ; n++ {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			fmt.Fprintf(out, "\n%d records\n", n)
			return stats, nil
		}
		if err != nil {
			return stats, err
		}

		ts := rec.Timestamp()
		if opts.realtime && !last.IsZero() {
			select {
			case <-time.After(ts.Sub(last)):
			case <-opts.done:
				return stats, nil
			}
		}
		last = ts

		if rec.Error != "" {
			stats.Update(nil, recordedError(rec.Error), nil)
			fmt.Fprintf(out, "[%s] [ERROR] %s\n", ts.Format("15:04:05.000"), rec.Error)
			continue
		}

		frame, err := decodeRecord(rec)
		if err != nil {
			stats.Update(nil, err, nil)
			fmt.Fprintf(out, "[%s] [ERROR] record %d: %v\n", ts.Format("15:04:05.000"), n, err)
			continue
		}

		if rec.Direction == capture.DirectionTx {
			stats.FrameSent(frame)
			if !opts.errorsOnly {
				fmt.Fprint(out, "TX ", tuya.FormatFrame(frame))
			}
			continue
		}

		problems := tuya.ValidateFrame(frame)
		stats.Update(&frame, nil, problems)
		if opts.errorsOnly && len(problems) == 0 {
			continue
		}
		fmt.Fprint(out, tuya.FormatFrame(frame))
		for _, p := range problems {
			fmt.Fprintf(out, "  Issue: %s\n", p.Message)
		}
	}
}

// decodeRecord parses the wire bytes of one record
func decodeRecord(rec capture.Record) (tuya.Frame, error) {
	rx := tuya.NewReceiver()
	for _, b := range rec.Frame {
		rx.Feed(b)
	}
	frame, ok, err := rx.Next()
	if err != nil {
		return tuya.Frame{}, err
	}
	if !ok {
		return tuya.Frame{}, fmt.Errorf("%w: incomplete frame (%d bytes)", tuya.ErrMalformedFrame, len(rec.Frame))
	}
	frame.Timestamp = rec.Timestamp()
	return frame, nil
}

// recordedError restores the error class of a recorded error message
func recordedError(msg string) error {
	for _, sentinel := range []error{tuya.ErrChecksum, tuya.ErrTransport, tuya.ErrMalformedFrame} {
		if strings.HasPrefix(msg, sentinel.Error()) {
			return fmt.Errorf("%w%s", sentinel, strings.TrimPrefix(msg, sentinel.Error()))
		}
	}
	return errors.New(msg)
}

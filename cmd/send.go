// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/tuyastat/internal/driver"
	"github.com/Thermoquad/tuyastat/pkg/tuya"
)

var (
	sendID         uint8
	sendType       string
	sendValue      string
	sendWiFiStatus string
	sendTimeout    time.Duration
	sendLinger     time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Bring the link up and send one data point or WiFi status",
	Long: `Act as the WiFi module until the MCU link is initialized, then send a single
data point or WiFi status update and exit.

Data point values by type:
  bool     true, false, 1, 0
  value    signed 32-bit integer
  string   text, at most 63 bytes
  enum     0-255
  raw      hex bytes, at most 64
  bitmap   hex bytes, at most 4

Examples:
  tuyastat send -p /dev/ttyUSB0 --id 1 --type bool --value true
  tuyastat send -p /dev/ttyUSB0 --wifi-status cloud_connected

Data points the MCU reports while waiting are printed. Exit codes: 0 sent,
1 error, 2 the link did not initialize before --timeout.`,
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().Uint8Var(&sendID, "id", 0, "Data point ID")
	sendCmd.Flags().StringVar(&sendType, "type", "", "Data point type (raw, bool, value, string, enum, bitmap)")
	sendCmd.Flags().StringVar(&sendValue, "value", "", "Data point value")
	sendCmd.Flags().StringVar(&sendWiFiStatus, "wifi-status", "", "WiFi status to report instead of a data point")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 10*time.Second, "Time allowed for link bring-up")
	sendCmd.Flags().DurationVar(&sendLinger, "linger", 500*time.Millisecond, "Time to keep the link up after sending")
	sendCmd.MarkFlagsMutuallyExclusive("wifi-status", "type")
	sendCmd.MarkFlagsRequiredTogether("type", "value")
}

// parseDataPoint builds a data point from command line text
func parseDataPoint(id uint8, typeName, value string) (tuya.DataPoint, error) {
	typ, err := tuya.ParseDPType(typeName)
	if err != nil {
		return tuya.DataPoint{}, err
	}

	switch typ {
	case tuya.DPTypeBool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return tuya.DataPoint{}, fmt.Errorf("invalid bool %q", value)
		}
		return tuya.NewBoolDP(id, b), nil

	case tuya.DPTypeValue:
		n, err := strconv.ParseInt(value, 0, 32)
		if err != nil {
			return tuya.DataPoint{}, fmt.Errorf("invalid value %q: %w", value, err)
		}
		return tuya.NewValueDP(id, int32(n)), nil

	case tuya.DPTypeString:
		if len(value) > tuya.MaxDPStringLen {
			return tuya.DataPoint{}, fmt.Errorf("string is %d bytes, max %d", len(value), tuya.MaxDPStringLen)
		}
		return tuya.NewStringDP(id, value), nil

	case tuya.DPTypeEnum:
		n, err := strconv.ParseUint(value, 0, 8)
		if err != nil {
			return tuya.DataPoint{}, fmt.Errorf("invalid enum %q: %w", value, err)
		}
		return tuya.NewEnumDP(id, uint8(n)), nil
	}

	// raw and bitmap take hex, with optional spaces or colons between bytes
	clean := strings.NewReplacer(" ", "", ":", "").Replace(strings.TrimPrefix(value, "0x"))
	buf, err := hex.DecodeString(clean)
	if err != nil {
		return tuya.DataPoint{}, fmt.Errorf("invalid hex %q: %w", value, err)
	}
	if typ == tuya.DPTypeBitmap {
		if len(buf) > tuya.MaxDPBitmapLen {
			return tuya.DataPoint{}, fmt.Errorf("bitmap is %d bytes, max %d", len(buf), tuya.MaxDPBitmapLen)
		}
		return tuya.NewBitmapDP(id, buf), nil
	}
	if len(buf) > tuya.MaxDPRawLen {
		return tuya.DataPoint{}, fmt.Errorf("raw is %d bytes, max %d", len(buf), tuya.MaxDPRawLen)
	}
	return tuya.NewRawDP(id, buf), nil
}

func runSend(cmd *cobra.Command, args []string) error {
	// Validate the request before touching the link
	var write func(*driver.Driver) error
	switch {
	case sendWiFiStatus != "":
		status, err := parseWiFiStatus(sendWiFiStatus)
		if err != nil {
			return err
		}
		write = func(d *driver.Driver) error { return d.WriteWiFiStatus(status) }
		fmt.Printf("Sending WiFi status %s\n", status)

	case sendType != "":
		dp, err := parseDataPoint(sendID, sendType, sendValue)
		if err != nil {
			return err
		}
		write = func(d *driver.Driver) error { return d.WriteDataPoint(dp) }
		fmt.Printf("Sending %s\n", tuya.FormatDataPoint(dp))

	default:
		return errors.New("either --type/--value or --wifi-status must be specified")
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	s, err := openSession(ctx, nil, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	initialized := make(chan driver.Event, 1)
	s.driver.Subscribe(func(ev driver.Event) {
		switch {
		case ev.Kind == driver.EventStateChanged && ev.State == tuya.StateInitialized:
			select {
			case initialized <- ev:
			default:
			}
		case ev.Kind == driver.EventDataPoint:
			printEvent(ev)
		}
	})

	runErr := make(chan error, 1)
	go func() { runErr <- s.driver.Run(ctx) }()

	select {
	case ev := <-initialized:
		fmt.Printf("Link initialized: ID=%s, ver=%s\n", ev.ProductID, ev.Version)
	case err := <-runErr:
		return fmt.Errorf("link failed during bring-up: %w", err)
	case <-time.After(sendTimeout):
		fmt.Fprintf(os.Stderr, "TIMEOUT: link not initialized within %s\n", sendTimeout)
		cancel()
		<-runErr
		_ = s.Close()
		os.Exit(2)
	case <-ctx.Done():
		<-runErr
		return ctx.Err()
	}

	if err := write(s.driver); err != nil {
		cancel()
		<-runErr
		return err
	}

	// Keep running so the queued frame is flushed and any reply is printed
	select {
	case <-time.After(sendLinger):
	case err := <-runErr:
		return err
	case <-ctx.Done():
	}
	cancel()
	if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("driver stopped with error", zap.Error(err))
	}
	fmt.Println("Sent")
	return nil
}

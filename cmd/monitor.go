// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/tuyastat/internal/bridge"
	"github.com/Thermoquad/tuyastat/internal/driver"
	"github.com/Thermoquad/tuyastat/internal/metrics"
	"github.com/Thermoquad/tuyastat/pkg/capture"
	"github.com/Thermoquad/tuyastat/pkg/tuya"
)

var (
	monitorTUI           bool
	monitorWiFiStatus    string
	monitorStatsInterval int
	monitorRecord        string
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Act as the WiFi module and print MCU events",
	Long: `Take the WiFi module role on the link: send heartbeats, query the product
information and print every state change, configuration request and data point
reported by the MCU.

With --wifi-status, the given status is reported to the MCU once the link is
initialized and again on every configuration request. Accepts a status name
such as cloud_connected or its numeric code.

The link is reopened automatically after a fault. Set --metrics-addr to expose
frame, error and state metrics for Prometheus. With --record, frames in both
directions are written to a capture file for the replay command.

Supports both serial and WebSocket connections.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&monitorTUI, "tui", false, "Use terminal UI")
	monitorCmd.Flags().StringVar(&monitorWiFiStatus, "wifi-status", "", "WiFi status reported to the MCU")
	monitorCmd.Flags().StringVar(&monitorRecord, "record", "", "Write a capture file")
	monitorCmd.Flags().IntVar(&monitorStatsInterval, "stats-interval", 0, "Print statistics every N seconds (text mode, 0 disables)")
}

// lockedStats guards a Statistics shared between the driver goroutine and the UI
type lockedStats struct {
	mu    sync.Mutex
	stats *tuya.Statistics
}

func newLockedStats() *lockedStats {
	return &lockedStats{stats: tuya.NewStatistics()}
}

func (l *lockedStats) FrameReceived(f tuya.Frame) {
	l.mu.Lock()
	l.stats.FrameReceived(f)
	l.mu.Unlock()
}

func (l *lockedStats) FrameSent(f tuya.Frame) {
	l.mu.Lock()
	l.stats.FrameSent(f)
	l.mu.Unlock()
}

func (l *lockedStats) ReceiveError(err error) {
	l.mu.Lock()
	l.stats.ReceiveError(err)
	l.mu.Unlock()
}

func (l *lockedStats) StateChanged(from, to tuya.State) {
	l.mu.Lock()
	l.stats.StateChanged(from, to)
	l.mu.Unlock()
}

// Snapshot returns a copy with rates brought up to date
func (l *lockedStats) Snapshot() tuya.Statistics {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats.CalculateRates()
	return *l.stats
}

func (l *lockedStats) Reset() {
	l.mu.Lock()
	l.stats.Reset()
	l.mu.Unlock()
}

// captureObserver records engine traffic in both directions.
// Engine observers run on the driver goroutine only.
type captureObserver struct {
	w *capture.Writer
}

func (c *captureObserver) write(rec capture.Record) {
	if err := c.w.WriteRecord(rec); err != nil {
		logger.Error("capture write failed", zap.Error(err))
	}
}

func (c *captureObserver) FrameReceived(f tuya.Frame) {
	c.write(capture.Record{Time: f.Timestamp.UnixMicro(), Direction: capture.DirectionRx, Frame: f.Bytes()})
}

func (c *captureObserver) FrameSent(f tuya.Frame) {
	c.write(capture.Record{Time: time.Now().UnixMicro(), Direction: capture.DirectionTx, Frame: f.Bytes()})
}

func (c *captureObserver) ReceiveError(err error) {
	c.write(capture.Record{Time: time.Now().UnixMicro(), Direction: capture.DirectionRx, Error: err.Error()})
}

func (c *captureObserver) StateChanged(_, _ tuya.State) {}

// startMetrics registers a collector and serves it when metrics.addr is set
func startMetrics(ctx context.Context) *metrics.Collector {
	reg := metrics.NewRegistry()
	collector := metrics.NewCollector(reg)
	if addr := cfg.Metrics.Addr; addr != "" {
		go func() {
			if err := metrics.Serve(ctx, addr, reg, logger.Named("metrics")); err != nil {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}
	return collector
}

// parseWiFiStatus accepts the same forms as the bridge wifi/set topic
func parseWiFiStatus(s string) (tuya.WiFiStatus, error) {
	return bridge.DecodeWiFiStatus([]byte(s))
}

// reportWiFiStatus queues status when the link comes up or the MCU asks for configuration
func reportWiFiStatus(d *driver.Driver, status tuya.WiFiStatus) func(driver.Event) {
	return func(ev driver.Event) {
		initialized := ev.Kind == driver.EventStateChanged && ev.State == tuya.StateInitialized
		if !initialized && ev.Kind != driver.EventConfigRequest {
			return
		}
		// Off the driver goroutine, which is the one draining the queue
		go func() {
			if err := d.WriteWiFiStatus(status); err != nil {
				logger.Warn("wifi status not sent", zap.Stringer("status", status), zap.Error(err))
			}
		}()
	}
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var (
		status    tuya.WiFiStatus
		hasStatus bool
	)
	if monitorWiFiStatus != "" {
		var err error
		status, err = parseWiFiStatus(monitorWiFiStatus)
		if err != nil {
			return err
		}
		hasStatus = true
	}

	stats := newLockedStats()
	collector := startMetrics(ctx)
	observers := []tuya.Observer{stats, collector}

	if monitorRecord != "" {
		f, err := os.Create(monitorRecord)
		if err != nil {
			return fmt.Errorf("failed to create capture file: %w", err)
		}
		defer f.Close()

		w, err := capture.NewWriter(f, cfg.Link.LinkInfo(), cfg.Link.Baud)
		if err != nil {
			return err
		}
		logger.Info("recording capture",
			zap.String("file", monitorRecord),
			zap.String("session", w.Header().Session),
		)
		observers = append(observers, &captureObserver{w: w})
	}
	observer := tuya.MultiObserver(observers...)

	if monitorTUI {
		return runMonitorTUI(ctx, stats, observer, collector, status, hasStatus)
	}

	fmt.Printf("Tuyastat - Monitor\n")
	fmt.Printf("Connection: %s\n", cfg.Link.LinkInfo())
	if hasStatus {
		fmt.Printf("WiFi status: %s\n", status)
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	if monitorStatsInterval > 0 {
		go func() {
			ticker := time.NewTicker(time.Duration(monitorStatsInterval) * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					snap := stats.Snapshot()
					fmt.Printf("\n%s\n", snap.String())
				}
			}
		}()
	}

	attach := func(s *session) {
		s.driver.Subscribe(printEvent)
		if hasStatus {
			s.driver.Subscribe(reportWiFiStatus(s.driver, status))
		}
	}
	onReconnect := func() {
		collector.Reconnect()
		fmt.Printf("[%s] Link lost, reconnecting\n", time.Now().Format("15:04:05.000"))
	}

	err := runWithReconnect(ctx, observer, collector, attach, onReconnect)

	snap := stats.Snapshot()
	fmt.Println()
	fmt.Print(snap.String())
	return err
}

// printEvent prints a driver event on one line
func printEvent(ev driver.Event) {
	timestamp := ev.Time.Format("15:04:05.000")

	switch ev.Kind {
	case driver.EventStateChanged:
		switch ev.State {
		case tuya.StateInitHeartbeat:
			fmt.Printf("[%s] Heartbeat sent, waiting for the MCU\n", timestamp)
		case tuya.StateQueryInfo:
			fmt.Printf("[%s] Querying product info\n", timestamp)
		case tuya.StateInitialized:
			fmt.Printf("[%s] \033[1;32mDevice initialized:\033[0m ID=%s, ver=%s\n", timestamp, ev.ProductID, ev.Version)
		default:
			fmt.Printf("[%s] State: %s\n", timestamp, ev.State)
		}

	case driver.EventConfigRequest:
		fmt.Printf("[%s] \033[1;33mConfig request\033[0m\n", timestamp)

	case driver.EventDataPoint:
		fmt.Printf("[%s] %s\n", timestamp, tuya.FormatDataPoint(ev.DataPoint))
	}
}

// uiForwarder batches messages for a tea.Program on a fixed interval.
// post never blocks; messages beyond the buffer are dropped.
type uiForwarder struct {
	msgs chan tea.Msg
	done chan struct{}
}

// monitorBatchMsg carries the messages collected during one interval
type monitorBatchMsg []tea.Msg

func newUIForwarder(p *tea.Program, size int, interval time.Duration) *uiForwarder {
	f := &uiForwarder{
		msgs: make(chan tea.Msg, size),
		done: make(chan struct{}),
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-f.done:
				return
			case <-ticker.C:
			}

			var batch monitorBatchMsg
		drain:
			for {
				select {
				case msg := <-f.msgs:
					batch = append(batch, msg)
				default:
					break drain
				}
			}
			if len(batch) > 0 {
				p.Send(batch)
			}
		}
	}()
	return f
}

func (f *uiForwarder) post(msg tea.Msg) {
	select {
	case f.msgs <- msg:
	default:
		logger.Debug("ui message dropped")
	}
}

func (f *uiForwarder) stop() {
	close(f.done)
}

// runMonitorTUI runs the link under the monitor TUI until the user quits
func runMonitorTUI(ctx context.Context, stats *lockedStats, observer tuya.Observer, collector *metrics.Collector,
	status tuya.WiFiStatus, hasStatus bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := initialMonitorModel(cfg.Link.LinkInfo(), stats)
	p := tea.NewProgram(m, tea.WithContext(ctx), tea.WithAltScreen())

	fwd := newUIForwarder(p, 256, 50*time.Millisecond)
	defer fwd.stop()

	first := true
	attach := func(s *session) {
		if !first {
			fwd.post(reconnectedMsg{connInfo: s.info})
		}
		first = false
		s.driver.Subscribe(func(ev driver.Event) { fwd.post(ev) })
		if hasStatus {
			s.driver.Subscribe(reportWiFiStatus(s.driver, status))
		}
	}
	onReconnect := func() {
		collector.Reconnect()
		fwd.post(connectionLostMsg{})
	}

	linkErr := make(chan error, 1)
	go func() {
		err := runWithReconnect(ctx, observer, collector, attach, onReconnect)
		linkErr <- err
		if err != nil {
			p.Quit()
		}
	}()

	_, err := p.Run()
	uiFailed := err != nil && ctx.Err() == nil
	cancel()
	if lerr := <-linkErr; lerr != nil {
		return lerr
	}
	if uiFailed {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/tuyastat/internal/config"
	"github.com/Thermoquad/tuyastat/pkg/tuya"
)

const productInfo = `{"p":"abcdefgh","v":"1.0.0","m":0}`

// fakeMCU answers the module like a real MCU: heartbeats are acked and
// product queries answered. Frames written by the engine are parsed and kept.
type fakeMCU struct {
	mu       sync.Mutex
	rx       []byte
	parser   *tuya.Receiver
	received []tuya.Frame
	readErr  error
	flushes  int
	silent   bool
}

func newFakeMCU() *fakeMCU {
	return &fakeMCU{parser: tuya.NewReceiver()}
}

func (m *fakeMCU) ReadByte() (byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.rx) == 0 {
		if m.readErr != nil {
			return 0, m.readErr
		}
		return 0, tuya.ErrNoData
	}
	b := m.rx[0]
	m.rx = m.rx[1:]
	return b, nil
}

func (m *fakeMCU) WriteByte(b byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.parser.Feed(b)
	for {
		f, ok, err := m.parser.Next()
		if err != nil || !ok {
			return nil
		}
		m.received = append(m.received, f)
		if !m.silent {
			m.reply(f)
		}
	}
}

func (m *fakeMCU) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes++
	return nil
}

func (m *fakeMCU) reply(f tuya.Frame) {
	switch f.Command {
	case tuya.CmdHeartbeat:
		m.pushLocked(tuya.CmdHeartbeat, []byte{0x01})
	case tuya.CmdProductInfo:
		m.pushLocked(tuya.CmdProductInfo, []byte(productInfo))
	}
}

func (m *fakeMCU) pushLocked(cmd tuya.Command, payload []byte) {
	frame, err := tuya.EncodeFrame(tuya.VersionMCU, cmd, payload)
	if err != nil {
		panic(err)
	}
	m.rx = append(m.rx, frame...)
}

// push queues a frame from the MCU
func (m *fakeMCU) push(cmd tuya.Command, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushLocked(cmd, payload)
}

// sent returns the frames written with the given command
func (m *fakeMCU) sent(cmd tuya.Command) []tuya.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []tuya.Frame
	for _, f := range m.received {
		if f.Command == cmd {
			out = append(out, f)
		}
	}
	return out
}

func (m *fakeMCU) flushCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}

type queueRecorder struct {
	mu     sync.Mutex
	queues []string
}

func (r *queueRecorder) QueueFull(queue string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queues = append(r.queues, queue)
}

func testConfig() config.DriverConfig {
	return config.DriverConfig{
		PollInterval:         2 * time.Millisecond,
		EnqueueTimeout:       20 * time.Millisecond,
		MaxConsecutiveErrors: 3,
	}
}

func newTestDriver(t *testing.T, mcu *fakeMCU, cfg config.DriverConfig, opts ...Option) *Driver {
	t.Helper()

	engine, err := tuya.New(mcu, tuya.WithTiming(5*time.Millisecond, 5*time.Millisecond, time.Second))
	require.NoError(t, err)

	d, err := New(engine, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

// start runs d in the background and returns the Run result channel
func start(t *testing.T, d *Driver) <-chan error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(context.Background()) }()
	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.running
	}, time.Second, time.Millisecond)
	return errCh
}

// collect subscribes a buffered event sink
func collect(d *Driver) <-chan Event {
	events := make(chan Event, 64)
	d.Subscribe(func(ev Event) {
		select {
		case events <- ev:
		default:
		}
	})
	return events
}

func waitEvent(t *testing.T, events <-chan Event, kind EventKind) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

func waitState(t *testing.T, events <-chan Event, state tuya.State) Event {
	t.Helper()
	for {
		ev := waitEvent(t, events, EventStateChanged)
		if ev.State == state {
			return ev
		}
	}
}

func TestNew_Defaults(t *testing.T) {
	d := newTestDriver(t, newFakeMCU(), config.DriverConfig{})

	require.Equal(t, DefaultPollInterval, d.cfg.PollInterval)
	require.Equal(t, DefaultEnqueueTimeout, d.cfg.EnqueueTimeout)
	require.Equal(t, DefaultWiFiQueueSize, cap(d.wifiQueue))
	require.Equal(t, DefaultDPQueueSize, cap(d.dpQueue))
	require.Equal(t, DefaultMaxConsecutiveErrors, d.cfg.MaxConsecutiveErrors)
}

func TestNew_NilEngine(t *testing.T) {
	_, err := New(nil, config.DriverConfig{})
	require.Error(t, err)
}

func TestDriver_BringUp(t *testing.T) {
	mcu := newFakeMCU()
	d := newTestDriver(t, mcu, testConfig())
	events := collect(d)
	start(t, d)

	ev := waitState(t, events, tuya.StateQueryInfo)
	require.Empty(t, ev.ProductID)

	ev = waitState(t, events, tuya.StateInitialized)
	require.Equal(t, "abcdefgh", ev.ProductID)
	require.Equal(t, "1.0.0", ev.Version)
	require.False(t, ev.Time.IsZero())

	require.Eventually(t, func() bool {
		return len(mcu.sent(tuya.CmdStateQuery)) == 1
	}, time.Second, time.Millisecond)
}

func TestDriver_WriteDataPoint(t *testing.T) {
	mcu := newFakeMCU()
	d := newTestDriver(t, mcu, testConfig())
	start(t, d)

	dp := tuya.NewValueDP(2, 300)
	require.NoError(t, d.WriteDataPoint(dp))

	require.Eventually(t, func() bool {
		frames := mcu.sent(tuya.CmdDataQuery)
		return len(frames) == 1 && string(frames[0].Payload) == string(dp.Encode())
	}, time.Second, time.Millisecond)
}

func TestDriver_WriteWiFiStatus(t *testing.T) {
	mcu := newFakeMCU()
	d := newTestDriver(t, mcu, testConfig())
	start(t, d)

	require.NoError(t, d.WriteWiFiStatus(tuya.WiFiConnected))

	require.Eventually(t, func() bool {
		frames := mcu.sent(tuya.CmdWiFiState)
		return len(frames) == 1 && frames[0].Payload[0] == byte(tuya.WiFiConnected)
	}, time.Second, time.Millisecond)
}

func TestDriver_QueuedBeforeRun(t *testing.T) {
	mcu := newFakeMCU()
	d := newTestDriver(t, mcu, testConfig())

	for i := 0; i < DefaultDPQueueSize; i++ {
		require.NoError(t, d.WriteDataPoint(tuya.NewEnumDP(uint8(i), 1)))
	}
	start(t, d)

	require.Eventually(t, func() bool {
		return len(mcu.sent(tuya.CmdDataQuery)) == DefaultDPQueueSize
	}, time.Second, time.Millisecond)

	frames := mcu.sent(tuya.CmdDataQuery)
	for i, f := range frames {
		dp, err := tuya.DecodeDataPoint(f.Payload)
		require.NoError(t, err)
		require.Equal(t, uint8(i), dp.ID, "queue order")
	}
}

func TestDriver_QueueFull(t *testing.T) {
	rec := &queueRecorder{}
	cfg := testConfig()
	cfg.WiFiQueueSize = 1
	d := newTestDriver(t, newFakeMCU(), cfg, WithQueueObserver(rec))

	require.NoError(t, d.WriteWiFiStatus(tuya.WiFiSmartConfig))

	begin := time.Now()
	err := d.WriteWiFiStatus(tuya.WiFiAPConfig)
	require.ErrorIs(t, err, ErrQueueFull)
	require.GreaterOrEqual(t, time.Since(begin), cfg.EnqueueTimeout)
	require.Equal(t, []string{QueueWiFi}, rec.queues)
}

func TestDriver_DataPointEvents(t *testing.T) {
	mcu := newFakeMCU()
	d := newTestDriver(t, mcu, testConfig())
	events := collect(d)
	start(t, d)

	payload := tuya.NewBoolDP(1, true).Encode()
	payload = tuya.NewStringDP(5, "auto").Append(payload)
	mcu.push(tuya.CmdStateUpload, payload)

	ev := waitEvent(t, events, EventDataPoint)
	require.Equal(t, uint8(1), ev.DataPoint.ID)
	require.True(t, ev.DataPoint.Bool())

	ev = waitEvent(t, events, EventDataPoint)
	require.Equal(t, uint8(5), ev.DataPoint.ID)
	require.Equal(t, "auto", ev.DataPoint.Text())
}

func TestDriver_ConfigRequest(t *testing.T) {
	mcu := newFakeMCU()
	d := newTestDriver(t, mcu, testConfig())
	events := collect(d)
	start(t, d)

	mcu.push(tuya.CmdWiFiMode, nil)

	waitEvent(t, events, EventConfigRequest)
	require.Len(t, mcu.sent(tuya.CmdWiFiMode), 1)
}

func TestDriver_SubscribersInOrder(t *testing.T) {
	mcu := newFakeMCU()
	d := newTestDriver(t, mcu, testConfig())

	var mu sync.Mutex
	var order []string
	record := func(name string) func(Event) {
		return func(ev Event) {
			if ev.Kind != EventConfigRequest {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
		}
	}
	d.Subscribe(record("first"))
	d.Subscribe(record("second"))
	start(t, d)

	mcu.push(tuya.CmdWiFiMode, nil)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, time.Second, time.Millisecond)
	require.Equal(t, []string{"first", "second"}, order)
}

func TestDriver_Unsubscribe(t *testing.T) {
	mcu := newFakeMCU()
	d := newTestDriver(t, mcu, testConfig())

	var mu sync.Mutex
	calls := 0
	var sub *Subscription
	sub = d.Subscribe(func(ev Event) {
		if ev.Kind != EventConfigRequest {
			return
		}
		mu.Lock()
		calls++
		mu.Unlock()
		sub.Close()
	})
	events := collect(d)
	start(t, d)

	mcu.push(tuya.CmdWiFiMode, nil)
	waitEvent(t, events, EventConfigRequest)
	mcu.push(tuya.CmdWiFiMode, nil)
	waitEvent(t, events, EventConfigRequest)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, calls)
}

func TestDriver_Flush(t *testing.T) {
	mcu := newFakeMCU()
	d := newTestDriver(t, mcu, testConfig(), WithFlusher(mcu))
	start(t, d)

	require.Eventually(t, func() bool {
		return mcu.flushCount() >= 3
	}, time.Second, time.Millisecond)
}

func TestDriver_LinkFault(t *testing.T) {
	mcu := newFakeMCU()
	mcu.readErr = io.ErrUnexpectedEOF
	d := newTestDriver(t, mcu, testConfig())

	err := d.Run(context.Background())
	require.ErrorIs(t, err, ErrLinkFault)
	require.ErrorIs(t, err, tuya.ErrTransport)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestDriver_ProtocolErrorsDoNotFault(t *testing.T) {
	mcu := newFakeMCU()
	d := newTestDriver(t, mcu, testConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	for i := 0; i < 10; i++ {
		mcu.push(tuya.Command(0x42), nil)
	}

	err := d.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestIsLinkError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transport", fmt.Errorf("%w: read: %w", tuya.ErrTransport, io.EOF), true},
		{"checksum", &tuya.ChecksumError{Expected: 1, Actual: 2}, true},
		{"malformed frame", tuya.ErrMalformedFrame, true},
		{"unknown command", &tuya.UnknownCommandError{Command: 0x42}, false},
		{"malformed dp", fmt.Errorf("state upload: %w", tuya.ErrMalformedDP), false},
		{"joined", errors.Join(&tuya.UnknownCommandError{Command: 0x42}, tuya.ErrMalformedFrame), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, isLinkError(tt.err))
		})
	}
}

func TestDriver_ContextCancel(t *testing.T) {
	d := newTestDriver(t, newFakeMCU(), testConfig())
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestDriver_RunTwice(t *testing.T) {
	d := newTestDriver(t, newFakeMCU(), testConfig())
	start(t, d)

	require.ErrorIs(t, d.Run(context.Background()), ErrRunning)
}

func TestDriver_Close(t *testing.T) {
	mcu := newFakeMCU()
	d := newTestDriver(t, mcu, testConfig())
	errCh := start(t, d)

	require.NoError(t, d.Close())

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Close")
	}

	require.NoError(t, d.Close())
	require.ErrorIs(t, d.Run(context.Background()), tuya.ErrClosed)
	require.ErrorIs(t, d.WriteWiFiStatus(tuya.WiFiConnected), tuya.ErrClosed)
	require.ErrorIs(t, d.WriteDataPoint(tuya.NewBoolDP(1, true)), tuya.ErrClosed)
}

func TestDriver_CloseFromSubscriber(t *testing.T) {
	mcu := newFakeMCU()
	d := newTestDriver(t, mcu, testConfig())

	closed := make(chan error, 1)
	d.Subscribe(func(ev Event) {
		if ev.Kind == EventConfigRequest {
			closed <- d.Close()
		}
	})
	errCh := start(t, d)

	mcu.push(tuya.CmdWiFiMode, nil)

	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Close from a subscriber did not return")
	}

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Close")
	}

	require.ErrorIs(t, d.engine.Tick(), tuya.ErrClosed)
	require.ErrorIs(t, d.Run(context.Background()), tuya.ErrClosed)
}

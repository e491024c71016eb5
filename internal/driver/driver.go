// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package driver runs a tuya.Engine on its own goroutine. Other goroutines
// queue outbound WiFi status and data point writes and subscribe to engine
// events.
package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/tuyastat/internal/config"
	"github.com/Thermoquad/tuyastat/pkg/tuya"
)

var (
	// ErrQueueFull is returned when a write could not be queued within the enqueue timeout
	ErrQueueFull = errors.New("driver: queue full")
	// ErrLinkFault is returned by Run after too many consecutive link errors
	ErrLinkFault = errors.New("driver: link fault")
	// ErrRunning is returned by a second concurrent Run
	ErrRunning = errors.New("driver: already running")
)

// Queue names reported to a QueueObserver
const (
	QueueWiFi      = "wifi"
	QueueDataPoint = "dp"
)

// Defaults applied to zero DriverConfig fields
const (
	DefaultPollInterval         = 50 * time.Millisecond
	DefaultEnqueueTimeout       = 100 * time.Millisecond
	DefaultWiFiQueueSize        = 4
	DefaultDPQueueSize          = 8
	DefaultMaxConsecutiveErrors = 10
)

// Flusher pushes buffered transport output to the link
type Flusher interface {
	Flush() error
}

// QueueObserver is told when an enqueue times out
type QueueObserver interface {
	QueueFull(queue string)
}

// EventKind identifies an Event
type EventKind int

const (
	// EventStateChanged carries the new State plus the product ID and version known so far
	EventStateChanged EventKind = iota
	// EventConfigRequest is published when the MCU asks for WiFi configuration
	EventConfigRequest
	// EventDataPoint carries one data point reported by the MCU
	EventDataPoint
)

func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "state_changed"
	case EventConfigRequest:
		return "config_request"
	case EventDataPoint:
		return "data_point"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Event is delivered to subscribers on the driver goroutine
type Event struct {
	Kind      EventKind
	State     tuya.State     // EventStateChanged: the new state
	DataPoint tuya.DataPoint // EventDataPoint
	ProductID string
	Version   string
	Time      time.Time
}

type subscriber struct {
	id uint64
	fn func(Event)
}

// Subscription is returned by Subscribe
type Subscription struct {
	d  *Driver
	id uint64
}

// Close removes the subscription. It is safe to call from a handler.
func (s *Subscription) Close() {
	s.d.unsubscribe(s.id)
}

// Option configures a Driver
type Option func(*Driver)

// WithLogger sets the driver logger
func WithLogger(logger *zap.Logger) Option {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithFlusher flushes f after every iteration of Run
func WithFlusher(f Flusher) Option {
	return func(d *Driver) {
		d.flusher = f
	}
}

// WithQueueObserver reports rejected enqueues to o
func WithQueueObserver(o QueueObserver) Option {
	return func(d *Driver) {
		d.queueObserver = o
	}
}

// Driver owns an Engine. Only the goroutine inside Run touches it.
type Driver struct {
	engine        *tuya.Engine
	cfg           config.DriverConfig
	logger        *zap.Logger
	flusher       Flusher
	queueObserver QueueObserver
	now           func() time.Time

	wifiQueue chan tuya.WiFiStatus
	dpQueue   chan tuya.DataPoint
	stop      chan struct{}
	wg        sync.WaitGroup

	// set while subscribers run on the Run goroutine
	publishing atomic.Bool

	mu      sync.Mutex
	subs    []subscriber
	nextID  uint64
	running bool
	closed  bool
}

// New wraps engine in a driver and installs its handlers.
// Zero fields in cfg take the package defaults.
func New(engine *tuya.Engine, cfg config.DriverConfig, opts ...Option) (*Driver, error) {
	if engine == nil {
		return nil, errors.New("driver: nil engine")
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = DefaultEnqueueTimeout
	}
	if cfg.WiFiQueueSize <= 0 {
		cfg.WiFiQueueSize = DefaultWiFiQueueSize
	}
	if cfg.DPQueueSize <= 0 {
		cfg.DPQueueSize = DefaultDPQueueSize
	}
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg.MaxConsecutiveErrors = DefaultMaxConsecutiveErrors
	}

	d := &Driver{
		engine:    engine,
		cfg:       cfg,
		logger:    zap.NewNop(),
		now:       time.Now,
		wifiQueue: make(chan tuya.WiFiStatus, cfg.WiFiQueueSize),
		dpQueue:   make(chan tuya.DataPoint, cfg.DPQueueSize),
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}

	engine.SetStateHandler(d.onStateChanged)
	engine.SetConfigHandler(d.onConfigRequest)
	engine.SetDataPointHandler(d.onDataPoint)

	return d, nil
}

// Subscribe registers fn for every event. Handlers run in registration
// order on the driver goroutine and must not block.
func (d *Driver) Subscribe(fn func(Event)) *Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	d.subs = append(d.subs, subscriber{id: d.nextID, fn: fn})
	return &Subscription{d: d, id: d.nextID}
}

func (d *Driver) unsubscribe(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, s := range d.subs {
		if s.id == id {
			d.subs = append(d.subs[:i:i], d.subs[i+1:]...)
			return
		}
	}
}

func (d *Driver) publish(ev Event) {
	d.mu.Lock()
	subs := d.subs
	d.mu.Unlock()

	d.publishing.Store(true)
	defer d.publishing.Store(false)
	for _, s := range subs {
		s.fn(ev)
	}
}

func (d *Driver) onStateChanged(s tuya.State) {
	d.publish(Event{
		Kind:      EventStateChanged,
		State:     s,
		ProductID: d.engine.ProductID(),
		Version:   d.engine.Version(),
		Time:      d.now(),
	})
}

func (d *Driver) onConfigRequest() {
	d.logger.Info("config request received")
	d.publish(Event{Kind: EventConfigRequest, Time: d.now()})
}

func (d *Driver) onDataPoint(dp tuya.DataPoint) {
	d.publish(Event{Kind: EventDataPoint, DataPoint: dp, Time: d.now()})
}

// WriteWiFiStatus queues a WiFi status report for the MCU
func (d *Driver) WriteWiFiStatus(status tuya.WiFiStatus) error {
	return enqueue(d, d.wifiQueue, status, QueueWiFi)
}

// WriteDataPoint queues a data point for the MCU
func (d *Driver) WriteDataPoint(dp tuya.DataPoint) error {
	return enqueue(d, d.dpQueue, dp, QueueDataPoint)
}

func enqueue[T any](d *Driver, q chan T, v T, name string) error {
	select {
	case <-d.stop:
		return tuya.ErrClosed
	default:
	}

	select {
	case q <- v:
		return nil
	default:
	}

	timer := time.NewTimer(d.cfg.EnqueueTimeout)
	defer timer.Stop()

	select {
	case q <- v:
		return nil
	case <-d.stop:
		return tuya.ErrClosed
	case <-timer.C:
		d.logger.Warn("queue full", zap.String("queue", name), zap.Duration("timeout", d.cfg.EnqueueTimeout))
		if d.queueObserver != nil {
			d.queueObserver.QueueFull(name)
		}
		return fmt.Errorf("%w: %s", ErrQueueFull, name)
	}
}

// Run drives the engine until ctx is cancelled, Close is called or the link
// faults. It returns nil after Close, ctx.Err() on cancellation and an
// error wrapping ErrLinkFault once MaxConsecutiveErrors iterations in a row
// have failed at the link level.
func (d *Driver) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return tuya.ErrClosed
	}
	if d.running {
		d.mu.Unlock()
		return ErrRunning
	}
	d.running = true
	d.wg.Add(1)
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.running = false
		closed := d.closed
		d.mu.Unlock()
		// Close called from a subscriber leaves the engine to Run
		if closed {
			_ = d.engine.Close()
		}
		d.wg.Done()
	}()

	d.logger.Info("driver started",
		zap.Duration("poll_interval", d.cfg.PollInterval),
		zap.Int("max_consecutive_errors", d.cfg.MaxConsecutiveErrors),
	)

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		var errs []error

		select {
		case <-ctx.Done():
			d.logger.Info("driver stopped", zap.Error(ctx.Err()))
			return ctx.Err()
		case <-d.stop:
			d.logger.Info("driver stopped")
			return nil
		case status := <-d.wifiQueue:
			errs = append(errs, d.sendWiFiStatus(status))
		case dp := <-d.dpQueue:
			errs = append(errs, d.sendDataPoint(dp))
		case <-ticker.C:
		}

		errs = append(errs, d.drainQueues()...)
		errs = append(errs, d.engine.Tick())
		if d.flusher != nil {
			if err := d.flusher.Flush(); err != nil {
				errs = append(errs, fmt.Errorf("%w: flush: %w", tuya.ErrTransport, err))
			}
		}

		err := errors.Join(errs...)
		if err == nil {
			failures = 0
			continue
		}

		if !isLinkError(err) {
			d.logger.Debug("tick reported protocol errors", zap.Error(err))
			failures = 0
			continue
		}

		failures++
		d.logger.Warn("tick failed",
			zap.Int("consecutive", failures),
			zap.Error(err),
		)
		if failures >= d.cfg.MaxConsecutiveErrors {
			return fmt.Errorf("%w: %d consecutive errors: %w", ErrLinkFault, failures, err)
		}
	}
}

// drainQueues sends everything currently queued without waiting
func (d *Driver) drainQueues() []error {
	var errs []error
	for {
		select {
		case status := <-d.wifiQueue:
			errs = append(errs, d.sendWiFiStatus(status))
		case dp := <-d.dpQueue:
			errs = append(errs, d.sendDataPoint(dp))
		default:
			return errs
		}
	}
}

func (d *Driver) sendWiFiStatus(status tuya.WiFiStatus) error {
	if err := d.engine.SendWiFiStatus(status); err != nil {
		return err
	}
	d.logger.Info("wifi status sent", zap.Stringer("status", status))
	return nil
}

func (d *Driver) sendDataPoint(dp tuya.DataPoint) error {
	if err := d.engine.SendDataPoint(dp); err != nil {
		return err
	}
	d.logger.Info("data point sent",
		zap.Uint8("id", dp.ID),
		zap.Stringer("type", dp.Type),
		zap.Uint16("len", dp.Len),
	)
	return nil
}

// isLinkError reports whether err points at the link rather than at a
// single bad frame or data point
func isLinkError(err error) bool {
	return errors.Is(err, tuya.ErrTransport) ||
		errors.Is(err, tuya.ErrChecksum) ||
		errors.Is(err, tuya.ErrMalformedFrame)
}

// Close stops Run, waits for it to return and closes the engine.
// Pending queued writes are discarded. Called from a subscriber, Close
// returns without waiting and Run closes the engine once the current tick ends.
func (d *Driver) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.stop)
	d.mu.Unlock()

	if d.publishing.Load() {
		d.mu.Lock()
		d.subs = nil
		d.mu.Unlock()
		return nil
	}

	d.wg.Wait()

	d.mu.Lock()
	d.subs = nil
	d.mu.Unlock()

	return d.engine.Close()
}

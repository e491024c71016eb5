// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tuya

import (
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
)

// Transport is the byte link to the MCU.
//
// ReadByte must not block: it returns ErrNoData when no byte is available.
// Any other read or write error is treated as a transport failure.
type Transport interface {
	io.ByteReader
	io.ByteWriter
}

// Clock supplies a monotonic millisecond tick that may wrap around
type Clock interface {
	Millis() uint32
}

// ClockFunc adapts a function to the Clock interface
type ClockFunc func() uint32

// Millis implements Clock
func (f ClockFunc) Millis() uint32 { return f() }

type systemClock struct {
	start time.Time
}

func (c systemClock) Millis() uint32 {
	return uint32(time.Since(c.start).Milliseconds())
}

// SystemClock returns a Clock counting milliseconds since the call
func SystemClock() Clock {
	return systemClock{start: time.Now()}
}

// Observer receives link-level notifications from an Engine.
// Implementations must not call back into the Engine.
type Observer interface {
	FrameReceived(f Frame)
	FrameSent(f Frame)
	ReceiveError(err error)
	StateChanged(from, to State)
}

type multiObserver []Observer

// MultiObserver fans notifications out to every non-nil observer in order
func MultiObserver(observers ...Observer) Observer {
	var m multiObserver
	for _, o := range observers {
		if o != nil {
			m = append(m, o)
		}
	}
	return m
}

func (m multiObserver) FrameReceived(f Frame) {
	for _, o := range m {
		o.FrameReceived(f)
	}
}

func (m multiObserver) FrameSent(f Frame) {
	for _, o := range m {
		o.FrameSent(f)
	}
}

func (m multiObserver) ReceiveError(err error) {
	for _, o := range m {
		o.ReceiveError(err)
	}
}

func (m multiObserver) StateChanged(from, to State) {
	for _, o := range m {
		o.StateChanged(from, to)
	}
}

// String returns the state name
func (s State) String() string {
	switch s {
	case StateInitHeartbeat:
		return "INIT_HEARTBEAT"
	case StateQueryInfo:
		return "QUERY_INFO"
	case StateInitialized:
		return "INITIALIZED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// Engine runs the module side of the protocol: connection bring-up,
// periodic heartbeats and dispatch of inbound frames.
//
// An Engine is not safe for concurrent use. All methods, including the
// registered handlers, run on the caller's goroutine.
type Engine struct {
	transport Transport
	clock     Clock
	logger    *zap.Logger
	observer  Observer

	txVersion         byte
	heartbeatInterval uint32
	queryInterval     uint32
	keepaliveInterval uint32

	rx *Receiver
	tx []byte

	state          State
	lastHeartbeat  uint32
	lastQuery      uint32
	heartbeatAcked bool
	productID      string
	version        string

	stateHandler  func(State)
	configHandler func()
	dpHandler     func(DataPoint)

	closed bool
}

// New creates an engine bound to a transport, in StateInitHeartbeat
func New(t Transport, opts ...Option) (*Engine, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil transport", ErrTransport)
	}

	e := &Engine{
		transport:         t,
		clock:             SystemClock(),
		logger:            zap.NewNop(),
		txVersion:         VersionModule,
		heartbeatInterval: DefaultHeartbeatInterval,
		queryInterval:     DefaultQueryInterval,
		keepaliveInterval: DefaultKeepaliveInterval,
		rx:                NewReceiver(),
		tx:                make([]byte, 0, TxBufferSize),
		state:             StateInitHeartbeat,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Close releases the engine buffers and detaches all handlers.
// Subsequent calls to Tick or Send* return ErrClosed.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	e.rx = nil
	e.tx = nil
	e.stateHandler = nil
	e.configHandler = nil
	e.dpHandler = nil
	return nil
}

// SetStateHandler registers the state change callback, replacing any previous one.
// The callback receives the new state before State() reports it.
func (e *Engine) SetStateHandler(fn func(State)) {
	e.stateHandler = fn
}

// SetConfigHandler registers the callback invoked when the MCU requests WiFi configuration
func (e *Engine) SetConfigHandler(fn func()) {
	e.configHandler = fn
}

// SetDataPointHandler registers the callback invoked for each received data point
func (e *Engine) SetDataPointHandler(fn func(DataPoint)) {
	e.dpHandler = fn
}

// State returns the current connection state
func (e *Engine) State() State { return e.state }

// ProductID returns the product ID reported by the MCU, or "" if not yet known
func (e *Engine) ProductID() string { return e.productID }

// Version returns the MCU firmware version, or "" if not yet known
func (e *Engine) Version() string { return e.version }

// HeartbeatAcknowledged reports whether the MCU has answered a heartbeat
func (e *Engine) HeartbeatAcknowledged() bool { return e.heartbeatAcked }

// SendWiFiStatus reports the module network state to the MCU
func (e *Engine) SendWiFiStatus(status WiFiStatus) error {
	if e.closed {
		return ErrClosed
	}
	return e.send(CmdWiFiState, []byte{byte(status)})
}

// SendDataPoint sends a data point to the MCU
func (e *Engine) SendDataPoint(dp DataPoint) error {
	if e.closed {
		return ErrClosed
	}
	return e.send(CmdDataQuery, dp.Encode())
}

// Tick advances the state machine and processes all bytes currently
// available from the transport.
//
// Timed transmissions for the current state happen first, then the receive
// pass. A transport read failure, checksum mismatch or malformed frame stops
// the pass. Unknown commands and malformed data points do not stop it; they
// are joined into the returned error once the pass completes.
func (e *Engine) Tick() error {
	if e.closed {
		return ErrClosed
	}

	now := e.clock.Millis()
	var sendErr error

	switch e.state {
	case StateInitHeartbeat:
		if now-e.lastHeartbeat > e.heartbeatInterval {
			sendErr = e.sendHeartbeat(now)
		}
		if e.heartbeatAcked {
			e.setState(StateQueryInfo)
		}

	case StateQueryInfo:
		if now-e.lastQuery > e.queryInterval {
			e.lastQuery = now
			sendErr = e.send(CmdProductInfo, nil)
		}
		if e.productID != "" && e.version != "" {
			sendErr = errors.Join(sendErr, e.send(CmdStateQuery, nil))
			e.setState(StateInitialized)
		}

	case StateInitialized:
		if now-e.lastHeartbeat > e.keepaliveInterval {
			sendErr = e.sendHeartbeat(now)
		}
	}

	if sendErr != nil {
		e.logger.Warn("transmit failed", zap.Stringer("state", e.state), zap.Error(sendErr))
	}

	return errors.Join(sendErr, e.receive())
}

func (e *Engine) setState(next State) {
	prev := e.state
	e.logger.Info("state changed",
		zap.Stringer("from", prev),
		zap.Stringer("to", next),
	)
	if e.stateHandler != nil {
		e.stateHandler(next)
	}
	e.state = next
	if e.observer != nil {
		e.observer.StateChanged(prev, next)
	}
}

func (e *Engine) sendHeartbeat(now uint32) error {
	e.lastHeartbeat = now
	return e.send(CmdHeartbeat, nil)
}

// send encodes a frame into the transmit buffer and writes it byte by byte.
// The first failed write aborts the frame.
func (e *Engine) send(cmd Command, payload []byte) error {
	frame, err := AppendFrame(e.tx[:0], e.txVersion, cmd, payload)
	if err != nil {
		return err
	}
	e.tx = frame[:0]

	for i, b := range frame {
		if err := e.transport.WriteByte(b); err != nil {
			return fmt.Errorf("%w: write %s byte %d of %d: %w", ErrTransport, cmd, i+1, len(frame), err)
		}
	}

	e.logger.Debug("frame sent",
		zap.Stringer("command", cmd),
		zap.Int("length", len(payload)),
	)
	if e.observer != nil {
		e.observer.FrameSent(Frame{Version: e.txVersion, Command: cmd, Payload: payload})
	}
	return nil
}

// receive drains the transport into the frame receiver and dispatches every
// complete frame
func (e *Engine) receive() error {
	// A state handler may have closed the engine.
	if e.closed {
		return nil
	}

	var errs []error

	// Frames left buffered by an aborted pass
	if err := e.drain(&errs); err != nil {
		e.receiveFailed(err)
		return errors.Join(append(errs, err)...)
	}

	for !e.closed {
		b, err := e.transport.ReadByte()
		if errors.Is(err, ErrNoData) {
			break
		}
		if err != nil {
			err = fmt.Errorf("%w: read: %w", ErrTransport, err)
			e.receiveFailed(err)
			errs = append(errs, err)
			break
		}

		e.rx.Feed(b)
		if err := e.drain(&errs); err != nil {
			e.receiveFailed(err)
			errs = append(errs, err)
			break
		}
	}
	return errors.Join(errs...)
}

// receiveFailed reports an error that aborted the receive pass
func (e *Engine) receiveFailed(err error) {
	if e.observer != nil {
		e.observer.ReceiveError(err)
	}
	e.logger.Debug("receive pass aborted", zap.Error(err))
}

// drain extracts all complete frames from the receiver. Dispatch errors are
// appended to errs; framing errors are returned.
func (e *Engine) drain(errs *[]error) error {
	for {
		frame, ok, err := e.rx.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := e.dispatch(frame); err != nil {
			*errs = append(*errs, err)
		}
		// A handler may have closed the engine.
		if e.closed {
			return nil
		}
	}
}

func (e *Engine) dispatch(f Frame) error {
	e.logger.Debug("frame received",
		zap.Stringer("command", f.Command),
		zap.Uint8("version", f.Version),
		zap.Int("length", len(f.Payload)),
	)
	if e.observer != nil {
		e.observer.FrameReceived(f)
	}

	switch f.Command {
	case CmdHeartbeat:
		if len(f.Payload) > 0 && f.Payload[0] == 0x01 {
			e.heartbeatAcked = true
		}

	case CmdProductInfo:
		info, err := ParseProductInfo(f.Payload)
		if info.ProductID != "" {
			e.productID = truncate(info.ProductID, ProductIDLen)
		}
		if info.Version != "" {
			e.version = truncate(info.Version, VersionLen)
		}
		if err != nil {
			e.logger.Warn("incomplete product info", zap.ByteString("payload", f.Payload), zap.Error(err))
		} else {
			e.logger.Info("product info",
				zap.String("product_id", e.productID),
				zap.String("version", e.version),
			)
		}

	case CmdWorkMode, CmdWiFiState, CmdWiFiReset, CmdDataQuery, CmdStateQuery:

	case CmdWiFiMode:
		err := e.send(CmdWiFiMode, nil)
		if e.configHandler != nil {
			e.configHandler()
		}
		return err

	case CmdStateUpload:
		dps, err := DecodeDataPoints(f.Payload)
		for _, dp := range dps {
			if e.dpHandler != nil {
				e.dpHandler(dp)
			}
		}
		if err != nil {
			return fmt.Errorf("state upload: %w", err)
		}

	default:
		return &UnknownCommandError{Command: f.Command}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

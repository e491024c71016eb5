// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport adapts blocking links (serial ports, WebSocket bridges)
// to the non-blocking byte contract of the tuya engine.
package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/Thermoquad/tuyastat/pkg/tuya"
	"go.uber.org/zap"
)

// ErrClosed is returned by a Stream after Close
var ErrClosed = errors.New("transport: stream closed")

const (
	defaultQueueSize = 1024
	readChunkSize    = 256
)

// Stream wraps an io.ReadWriter as a tuya.Transport.
//
// A reader goroutine moves incoming bytes into a bounded queue so ReadByte
// never blocks. Writes are buffered until Flush.
type Stream struct {
	rw     io.ReadWriter
	logger *zap.Logger

	rx   chan byte
	done chan struct{}
	wg   sync.WaitGroup

	wmu sync.Mutex
	w   *bufio.Writer

	errMu   sync.Mutex
	readErr error

	closeOnce sync.Once
	closed    atomic.Bool

	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64
}

// StreamOption configures a Stream
type StreamOption func(*Stream)

// WithLogger sets the stream logger
func WithLogger(logger *zap.Logger) StreamOption {
	return func(s *Stream) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithQueueSize sets the capacity of the receive queue
func WithQueueSize(n int) StreamOption {
	return func(s *Stream) {
		if n > 0 {
			s.rx = make(chan byte, n)
		}
	}
}

// NewStream starts reading from rw in the background
func NewStream(rw io.ReadWriter, opts ...StreamOption) *Stream {
	s := &Stream{
		rw:     rw,
		logger: zap.NewNop(),
		rx:     make(chan byte, defaultQueueSize),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.w = bufio.NewWriterSize(rw, tuya.TxBufferSize)

	s.wg.Add(1)
	go s.readLoop()
	return s
}

func (s *Stream) readLoop() {
	defer s.wg.Done()

	buf := make([]byte, readChunkSize)
	for {
		n, err := s.rw.Read(buf)
		for i := 0; i < n; i++ {
			select {
			case s.rx <- buf[i]:
				s.bytesRead.Add(1)
			case <-s.done:
				return
			}
		}
		if err != nil {
			if !s.closed.Load() {
				s.logger.Debug("link read failed", zap.Error(err))
			}
			s.errMu.Lock()
			s.readErr = err
			s.errMu.Unlock()
			return
		}

		select {
		case <-s.done:
			return
		default:
		}
	}
}

// ReadByte returns the next received byte, or tuya.ErrNoData when none is queued.
// Once the queue is drained after a read failure, the failure is returned.
func (s *Stream) ReadByte() (byte, error) {
	select {
	case b := <-s.rx:
		return b, nil
	default:
	}

	if s.closed.Load() {
		return 0, ErrClosed
	}
	if err := s.Err(); err != nil {
		return 0, fmt.Errorf("transport: read: %w", err)
	}
	return 0, tuya.ErrNoData
}

// WriteByte buffers one byte for transmission
func (s *Stream) WriteByte(b byte) error {
	if s.closed.Load() {
		return ErrClosed
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()

	if s.w.Available() == 0 {
		if err := s.flushLocked(); err != nil {
			return err
		}
	}
	return s.w.WriteByte(b)
}

// Flush writes all buffered bytes to the link
func (s *Stream) Flush() error {
	if s.closed.Load() {
		return ErrClosed
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.flushLocked()
}

func (s *Stream) flushLocked() error {
	n := s.w.Buffered()
	if n == 0 {
		return nil
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	s.bytesWritten.Add(uint64(n))
	return nil
}

// Err returns the error that stopped the reader, if any
func (s *Stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.readErr
}

// BytesRead returns the number of bytes received from the link
func (s *Stream) BytesRead() uint64 { return s.bytesRead.Load() }

// BytesWritten returns the number of bytes flushed to the link
func (s *Stream) BytesWritten() uint64 { return s.bytesWritten.Load() }

// Close flushes pending writes, stops the reader and closes the underlying
// link if it is an io.Closer. It waits for the reader goroutine to exit.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.wmu.Lock()
		_ = s.flushLocked()
		s.wmu.Unlock()

		s.closed.Store(true)
		close(s.done)
		if c, ok := s.rw.(io.Closer); ok {
			err = c.Close()
		}
		s.wg.Wait()
	})
	return err
}

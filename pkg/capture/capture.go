// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package capture reads and writes recorded link traffic.
//
// A capture is a stream of CBOR items: one Header followed by any number of
// Records, each holding the raw wire bytes of a single frame.
package capture

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// Magic identifies a capture stream
const Magic = "tuyastat-capture"

// FormatVersion is the current capture layout
const FormatVersion = 1

// ErrBadHeader is returned when a stream does not start with a capture header
var ErrBadHeader = errors.New("capture: bad header")

// Direction tells which side of the link sent a frame
type Direction uint8

const (
	DirectionRx Direction = iota // MCU to module
	DirectionTx                  // module to MCU
)

// String returns "rx" or "tx"
func (d Direction) String() string {
	if d == DirectionTx {
		return "tx"
	}
	return "rx"
}

// Header is the first item of every capture
type Header struct {
	Magic   string `cbor:"1,keyasint"`
	Version int    `cbor:"2,keyasint"`
	Session string `cbor:"3,keyasint"`
	Source  string `cbor:"4,keyasint,omitempty"`
	Baud    int    `cbor:"5,keyasint,omitempty"`
	Started int64  `cbor:"6,keyasint"` // unix microseconds
}

// SessionID parses the header session as a UUID
func (h Header) SessionID() (uuid.UUID, error) {
	return uuid.Parse(h.Session)
}

// StartTime returns the capture start time
func (h Header) StartTime() time.Time {
	return time.UnixMicro(h.Started)
}

// Record is one captured frame
type Record struct {
	Time      int64     `cbor:"1,keyasint"` // unix microseconds
	Direction Direction `cbor:"2,keyasint"`
	Frame     []byte    `cbor:"3,keyasint"`
	Error     string    `cbor:"4,keyasint,omitempty"`
}

// Timestamp returns the record time
func (r Record) Timestamp() time.Time {
	return time.UnixMicro(r.Time)
}

// Writer appends records to a capture stream
type Writer struct {
	enc    *cbor.Encoder
	header Header
	count  int
}

// NewWriter writes a header with a fresh session ID and returns a Writer
func NewWriter(w io.Writer, source string, baud int) (*Writer, error) {
	header := Header{
		Magic:   Magic,
		Version: FormatVersion,
		Session: uuid.NewString(),
		Source:  source,
		Baud:    baud,
		Started: time.Now().UnixMicro(),
	}

	enc := cbor.NewEncoder(w)
	if err := enc.Encode(header); err != nil {
		return nil, fmt.Errorf("capture: write header: %w", err)
	}
	return &Writer{enc: enc, header: header}, nil
}

// Header returns the header written at the start of the stream
func (w *Writer) Header() Header {
	return w.header
}

// Count returns the number of records written
func (w *Writer) Count() int {
	return w.count
}

// Write appends a frame with the current time
func (w *Writer) Write(dir Direction, frame []byte) error {
	return w.WriteRecord(Record{
		Time:      time.Now().UnixMicro(),
		Direction: dir,
		Frame:     frame,
	})
}

// WriteRecord appends a complete record
func (w *Writer) WriteRecord(rec Record) error {
	if err := w.enc.Encode(rec); err != nil {
		return fmt.Errorf("capture: write record %d: %w", w.count, err)
	}
	w.count++
	return nil
}

// Reader iterates over the records of a capture stream
type Reader struct {
	dec    *cbor.Decoder
	header Header
}

// NewReader reads and validates the capture header
func NewReader(r io.Reader) (*Reader, error) {
	dec := cbor.NewDecoder(r)

	var header Header
	if err := dec.Decode(&header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	if header.Magic != Magic {
		return nil, fmt.Errorf("%w: magic %q", ErrBadHeader, header.Magic)
	}
	if header.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadHeader, header.Version)
	}
	return &Reader{dec: dec, header: header}, nil
}

// Header returns the capture header
func (r *Reader) Header() Header {
	return r.header
}

// Next returns the next record, or io.EOF at the end of the stream
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("capture: read record: %w", err)
	}
	return rec, nil
}

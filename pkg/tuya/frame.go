// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tuya

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Frame is one protocol message: sync, version, command, length, payload, checksum
type Frame struct {
	Version   byte
	Command   Command
	Payload   []byte
	Timestamp time.Time // receive time, zero for outbound frames
}

// Len returns the encoded size of the frame
func (f Frame) Len() int {
	return FrameOverhead + len(f.Payload)
}

// Bytes returns the wire encoding of the frame
func (f Frame) Bytes() []byte {
	out, _ := AppendFrame(nil, f.Version, f.Command, f.Payload)
	return out
}

// AppendFrame appends a complete wire frame to dst
func AppendFrame(dst []byte, version byte, cmd Command, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return dst, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(payload), MaxPayload)
	}

	start := len(dst)
	dst = append(dst, SyncFirst, SyncSecond, version, byte(cmd), 0, 0)
	binary.BigEndian.PutUint16(dst[start+4:start+6], uint16(len(payload)))
	dst = append(dst, payload...)
	return append(dst, Checksum(dst[start:])), nil
}

// EncodeFrame creates a complete wire-formatted frame ready for transmission
func EncodeFrame(version byte, cmd Command, payload []byte) ([]byte, error) {
	return AppendFrame(make([]byte, 0, FrameOverhead+len(payload)), version, cmd, payload)
}

// Receiver accumulates an inbound byte stream and extracts frames from it.
//
// Bytes are appended with Feed and complete frames are pulled with Next.
// Noise before a sync sequence is discarded one byte at a time.
type Receiver struct {
	buf       []byte
	n         int
	overflows uint64
}

// NewReceiver creates a receiver with the default RxBufferSize capacity
func NewReceiver() *Receiver {
	return &Receiver{buf: make([]byte, RxBufferSize)}
}

// Reset discards all buffered bytes
func (r *Receiver) Reset() {
	r.n = 0
}

// Buffered returns the number of bytes waiting in the buffer
func (r *Receiver) Buffered() int {
	return r.n
}

// Overflows returns how many times the buffer was reset because it was full
func (r *Receiver) Overflows() uint64 {
	return r.overflows
}

// Feed appends one byte. A byte arriving at a full buffer resets it to
// empty and is dropped along with any partial frame.
func (r *Receiver) Feed(b byte) {
	if r.n >= len(r.buf) {
		r.n = 0
		r.overflows++
		return
	}
	r.buf[r.n] = b
	r.n++
}

// Next extracts the next complete frame from the buffer.
// Returns ok=false when more bytes are needed. A checksum mismatch returns a
// *ChecksumError and drops the leading sync byte so the following call
// resynchronizes. A header declaring a frame larger than the buffer returns
// ErrMalformedFrame and empties the buffer.
func (r *Receiver) Next() (Frame, bool, error) {
	for r.n >= HeaderSize {
		if r.buf[0] != SyncFirst || r.buf[1] != SyncSecond {
			r.consume(1)
			continue
		}

		length := int(binary.BigEndian.Uint16(r.buf[4:6]))
		frameLen := FrameOverhead + length
		if frameLen > len(r.buf) {
			r.n = 0
			return Frame{}, false, fmt.Errorf("%w: declared length %d exceeds buffer", ErrMalformedFrame, length)
		}
		if r.n < frameLen {
			return Frame{}, false, nil
		}

		expected := Checksum(r.buf[:HeaderSize+length])
		actual := r.buf[frameLen-1]
		if expected != actual {
			r.consume(1)
			return Frame{}, false, &ChecksumError{Expected: expected, Actual: actual}
		}

		frame := Frame{
			Version:   r.buf[2],
			Command:   Command(r.buf[3]),
			Payload:   make([]byte, length),
			Timestamp: time.Now(),
		}
		copy(frame.Payload, r.buf[HeaderSize:HeaderSize+length])
		r.consume(frameLen)
		return frame, true, nil
	}
	return Frame{}, false, nil
}

// consume removes n bytes from the front of the buffer, keeping the rest
func (r *Receiver) consume(n int) {
	if n >= r.n {
		r.n = 0
		return
	}
	copy(r.buf, r.buf[n:r.n])
	r.n -= n
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tuya

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// DataPoint is a typed attribute update identified by a schema-defined ID.
//
// The value is held in a fixed buffer and reinterpreted according to Type by
// the accessors. Len is the payload length declared on the wire (or set by
// the constructor); it is not necessarily the encoded length for fixed-size
// types.
type DataPoint struct {
	ID   uint8
	Type DPType
	Len  uint16
	data [MaxDPRawLen]byte
}

// NewRawDP creates a RAW data point. Input beyond MaxDPRawLen is truncated.
func NewRawDP(id uint8, buf []byte) DataPoint {
	dp := DataPoint{ID: id, Type: DPTypeRaw}
	dp.Len = uint16(copy(dp.data[:], buf))
	return dp
}

// NewBoolDP creates a BOOL data point
func NewBoolDP(id uint8, value bool) DataPoint {
	dp := DataPoint{ID: id, Type: DPTypeBool, Len: 1}
	if value {
		dp.data[0] = 1
	}
	return dp
}

// NewValueDP creates a VALUE data point (32-bit signed, big-endian on the wire)
func NewValueDP(id uint8, value int32) DataPoint {
	dp := DataPoint{ID: id, Type: DPTypeValue, Len: 4}
	binary.BigEndian.PutUint32(dp.data[:4], uint32(value))
	return dp
}

// NewStringDP creates a STRING data point. Strings longer than
// MaxDPStringLen are truncated.
func NewStringDP(id uint8, s string) DataPoint {
	dp := DataPoint{ID: id, Type: DPTypeString}
	if len(s) > MaxDPStringLen {
		s = s[:MaxDPStringLen]
	}
	dp.Len = uint16(copy(dp.data[:], s))
	return dp
}

// NewEnumDP creates an ENUM data point
func NewEnumDP(id uint8, value uint8) DataPoint {
	dp := DataPoint{ID: id, Type: DPTypeEnum, Len: 1}
	dp.data[0] = value
	return dp
}

// NewBitmapDP creates a BITMAP data point. Input beyond MaxDPBitmapLen is truncated.
func NewBitmapDP(id uint8, bits []byte) DataPoint {
	dp := DataPoint{ID: id, Type: DPTypeBitmap}
	dp.Len = uint16(copy(dp.data[:MaxDPBitmapLen], bits))
	return dp
}

// Bool returns the BOOL value (first payload byte non-zero)
func (dp DataPoint) Bool() bool {
	return dp.data[0] != 0
}

// Value returns the VALUE payload as a signed 32-bit integer.
// Returns 0 when fewer than 4 payload bytes are present.
func (dp DataPoint) Value() int32 {
	if dp.Len < 4 {
		return 0
	}
	return int32(binary.BigEndian.Uint32(dp.data[:4]))
}

// Text returns the STRING value, capped at MaxDPStringLen and cut at the first NUL
func (dp DataPoint) Text() string {
	n := int(dp.Len)
	if n > MaxDPStringLen {
		n = MaxDPStringLen
	}
	s := dp.data[:n]
	if i := bytes.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	return string(s)
}

// Enum returns the ENUM value
func (dp DataPoint) Enum() uint8 {
	return dp.data[0]
}

// Bitmap returns a copy of the BITMAP bytes
func (dp DataPoint) Bitmap() []byte {
	return dp.Raw()
}

// Raw returns a copy of the payload bytes as declared by Len
func (dp DataPoint) Raw() []byte {
	n := int(dp.Len)
	if n > MaxDPRawLen {
		n = MaxDPRawLen
	}
	out := make([]byte, n)
	copy(out, dp.data[:n])
	return out
}

// payloadLen returns the encoded payload length for the data point type
func (dp DataPoint) payloadLen() int {
	switch dp.Type {
	case DPTypeBool, DPTypeEnum:
		return 1
	case DPTypeValue:
		return 4
	case DPTypeString:
		return len(dp.Text())
	default:
		if dp.Len > MaxDPRawLen {
			return MaxDPRawLen
		}
		return int(dp.Len)
	}
}

// WireLen returns the encoded size of the data point including its 4-byte header
func (dp DataPoint) WireLen() int {
	return DPHeaderSize + dp.payloadLen()
}

// Append appends the wire encoding [id, type, lenHi, lenLo, payload...] to dst
func (dp DataPoint) Append(dst []byte) []byte {
	n := dp.payloadLen()
	dst = append(dst, dp.ID, byte(dp.Type), byte(n>>8), byte(n))
	return append(dst, dp.data[:n]...)
}

// Encode returns the wire encoding of the data point
func (dp DataPoint) Encode() []byte {
	return dp.Append(make([]byte, 0, dp.WireLen()))
}

// DecodeDataPoint parses a single data point from the start of buf.
// The returned value must not be used when err is non-nil.
func DecodeDataPoint(buf []byte) (DataPoint, error) {
	if len(buf) < DPHeaderSize {
		return DataPoint{}, fmt.Errorf("%w: %d bytes, need at least %d", ErrMalformedDP, len(buf), DPHeaderSize)
	}

	length := binary.BigEndian.Uint16(buf[2:4])
	if length > MaxDPRawLen {
		return DataPoint{}, fmt.Errorf("%w: declared length %d exceeds %d", ErrMalformedDP, length, MaxDPRawLen)
	}
	if len(buf) < DPHeaderSize+int(length) {
		return DataPoint{}, fmt.Errorf("%w: declared length %d, only %d payload bytes", ErrMalformedDP, length, len(buf)-DPHeaderSize)
	}

	dp := DataPoint{ID: buf[0], Type: DPType(buf[1]), Len: length}
	copy(dp.data[:], buf[DPHeaderSize:DPHeaderSize+int(length)])
	return dp, nil
}

// DecodeDataPoints parses consecutive data points from a STATE_UPLOAD payload.
// On error it returns the data points decoded before the malformed record.
func DecodeDataPoints(buf []byte) ([]DataPoint, error) {
	var dps []DataPoint
	for len(buf) > 0 {
		dp, err := DecodeDataPoint(buf)
		if err != nil {
			return dps, err
		}
		dps = append(dps, dp)
		buf = buf[DPHeaderSize+int(dp.Len):]
	}
	return dps, nil
}

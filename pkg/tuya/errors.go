// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tuya

import (
	"errors"
	"fmt"
)

var (
	// ErrNoData is returned by a Transport when no byte is available yet
	ErrNoData = errors.New("tuya: no data available")
	// ErrTransport wraps byte-level read/write failures
	ErrTransport = errors.New("tuya: transport error")
	// ErrChecksum indicates a frame failed its integrity check
	ErrChecksum = errors.New("tuya: checksum mismatch")
	// ErrMalformedFrame indicates a frame header that can never complete
	ErrMalformedFrame = errors.New("tuya: malformed frame")
	// ErrMalformedDP indicates a data point buffer that is short or inconsistent
	ErrMalformedDP = errors.New("tuya: malformed data point")
	// ErrUnknownCommand indicates a frame with an unrecognized command code
	ErrUnknownCommand = errors.New("tuya: unknown command")
	// ErrPayloadTooLarge indicates an outbound payload exceeding the transmit buffer
	ErrPayloadTooLarge = errors.New("tuya: payload too large")
	// ErrClosed is returned by operations on a closed engine
	ErrClosed = errors.New("tuya: engine closed")
	// ErrMissingProductInfo indicates product info without a product id or version
	ErrMissingProductInfo = errors.New("tuya: product info missing p or v")
)

// ChecksumError carries the computed and received checksum of a rejected frame
type ChecksumError struct {
	Expected byte
	Actual   byte
}

// Error implements the error interface
func (e *ChecksumError) Error() string {
	return fmt.Sprintf("tuya: checksum mismatch: expected 0x%02X, got 0x%02X", e.Expected, e.Actual)
}

// Unwrap returns ErrChecksum
func (e *ChecksumError) Unwrap() error {
	return ErrChecksum
}

// UnknownCommandError reports a frame whose command has no dispatch entry
type UnknownCommandError struct {
	Command Command
}

// Error implements the error interface
func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("tuya: unknown command 0x%02X", byte(e.Command))
}

// Unwrap returns ErrUnknownCommand
func (e *UnknownCommandError) Unwrap() error {
	return ErrUnknownCommand
}

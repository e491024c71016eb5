// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package tuya provides a Go implementation of the Tuya MCU-WiFi serial protocol.
//
// The protocol runs over a UART link between a WiFi module and a peripheral
// microcontroller. This package provides frame encoding/decoding with checksum
// validation, the typed data point (DP) codec and the module-side connection
// engine (heartbeat, product info query, DP dispatch).
package tuya

// Protocol framing bytes
const (
	SyncFirst  = 0x55
	SyncSecond = 0xAA
)

// Frame size limits
const (
	HeaderSize    = 6              // sync(2) + version + command + length(2)
	FrameOverhead = HeaderSize + 1 // header + checksum
	RxBufferSize  = 256
	TxBufferSize  = 256
	MaxPayload    = TxBufferSize - FrameOverhead
)

// Protocol versions carried in byte 2 of every frame
const (
	VersionModule = 0x00 // frames sent by the WiFi module
	VersionMCU    = 0x03 // frames sent by the MCU
)

// Product info field limits
const (
	ProductIDLen = 16
	VersionLen   = 5
)

// Engine timing defaults in milliseconds
const (
	DefaultHeartbeatInterval = 1000
	DefaultQueryInterval     = 5000
	DefaultKeepaliveInterval = 15000
)

// Command is a frame command code
type Command byte

// Command codes
const (
	CmdHeartbeat   Command = 0x00
	CmdProductInfo Command = 0x01
	CmdWorkMode    Command = 0x02
	CmdWiFiState   Command = 0x03
	CmdWiFiReset   Command = 0x04
	CmdWiFiMode    Command = 0x05
	CmdDataQuery   Command = 0x06
	CmdStateUpload Command = 0x07
	CmdStateQuery  Command = 0x08
)

// WiFiStatus is the module network state reported with CmdWiFiState
type WiFiStatus byte

// WiFi status values
const (
	WiFiSmartConfig      WiFiStatus = 0x00
	WiFiAPConfig         WiFiStatus = 0x01
	WiFiNotConnected     WiFiStatus = 0x02
	WiFiConnected        WiFiStatus = 0x03
	WiFiCloudConnected   WiFiStatus = 0x04
	WiFiLowPower         WiFiStatus = 0x05
	WiFiSmartAndAPConfig WiFiStatus = 0x06
)

// DPType identifies the value type of a data point
type DPType byte

// Data point types
const (
	DPTypeRaw    DPType = 0x00
	DPTypeBool   DPType = 0x01
	DPTypeValue  DPType = 0x02
	DPTypeString DPType = 0x03
	DPTypeEnum   DPType = 0x04
	DPTypeBitmap DPType = 0x05
)

// Data point value capacities
const (
	DPHeaderSize   = 4
	MaxDPRawLen    = 64
	MaxDPStringLen = MaxDPRawLen - 1
	MaxDPBitmapLen = 4
)

// State is the engine connection lifecycle state
type State int

// Engine states
const (
	StateInitHeartbeat State = iota
	StateQueryInfo
	StateInitialized
)

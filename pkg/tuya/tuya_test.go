// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tuya

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

// ============================================================
// Test Helpers
// ============================================================

// mustEncode builds a frame and fails the test on error
func mustEncode(t *testing.T, version byte, cmd Command, payload []byte) []byte {
	t.Helper()
	frame, err := EncodeFrame(version, cmd, payload)
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}
	return frame
}

// feedAll feeds data byte by byte and drains the receiver after every byte
func feedAll(r *Receiver, data []byte) ([]Frame, []error) {
	var frames []Frame
	var errs []error
	for _, b := range data {
		r.Feed(b)
		for {
			frame, ok, err := r.Next()
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if !ok {
				break
			}
			frames = append(frames, frame)
		}
	}
	return frames, errs
}

// ============================================================
// Checksum Tests
// ============================================================

func TestChecksum(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected byte
	}{
		{"empty", []byte{}, 0x00},
		{"sync only", []byte{0x55, 0xAA}, 0xFF},
		{"heartbeat header", []byte{0x55, 0xAA, 0x00, 0x00, 0x00, 0x00}, 0xFF},
		{"wraps modulo 256", []byte{0xFF, 0xFF, 0x03}, 0x01},
		{"product info header", []byte{0x55, 0xAA, 0x00, 0x01, 0x00, 0x00}, 0x00},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Checksum(tt.data); got != tt.expected {
				t.Errorf("Checksum(% X) = 0x%02X, want 0x%02X", tt.data, got, tt.expected)
			}
		})
	}
}

// ============================================================
// Data Point Tests
// ============================================================

func TestDataPoint_Encode(t *testing.T) {
	tests := []struct {
		name     string
		dp       DataPoint
		expected []byte
	}{
		{"bool true", NewBoolDP(1, true), []byte{0x01, 0x01, 0x00, 0x01, 0x01}},
		{"bool false", NewBoolDP(1, false), []byte{0x01, 0x01, 0x00, 0x01, 0x00}},
		{"value", NewValueDP(2, 25), []byte{0x02, 0x02, 0x00, 0x04, 0x00, 0x00, 0x00, 0x19}},
		{"negative value", NewValueDP(3, -1), []byte{0x03, 0x02, 0x00, 0x04, 0xFF, 0xFF, 0xFF, 0xFF}},
		{"string", NewStringDP(4, "hi"), []byte{0x04, 0x03, 0x00, 0x02, 'h', 'i'}},
		{"enum", NewEnumDP(5, 2), []byte{0x05, 0x04, 0x00, 0x01, 0x02}},
		{"bitmap", NewBitmapDP(6, []byte{0x01, 0x02}), []byte{0x06, 0x05, 0x00, 0x02, 0x01, 0x02}},
		{"raw", NewRawDP(7, []byte{0xDE, 0xAD, 0xBE}), []byte{0x07, 0x00, 0x00, 0x03, 0xDE, 0xAD, 0xBE}},
		{"empty string", NewStringDP(8, ""), []byte{0x08, 0x03, 0x00, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.dp.Encode()
			if !bytes.Equal(got, tt.expected) {
				t.Errorf("Encode() = % X, want % X", got, tt.expected)
			}
			if tt.dp.WireLen() != len(tt.expected) {
				t.Errorf("WireLen() = %d, want %d", tt.dp.WireLen(), len(tt.expected))
			}
		})
	}
}

func TestDataPoint_RoundTrip(t *testing.T) {
	tests := []DataPoint{
		NewBoolDP(1, true),
		NewValueDP(2, -123456),
		NewValueDP(3, 2147483647),
		NewStringDP(4, "living room"),
		NewEnumDP(5, 3),
		NewBitmapDP(6, []byte{0x0F, 0xF0, 0x00, 0x01}),
		NewRawDP(7, bytes.Repeat([]byte{0xA5}, MaxDPRawLen)),
		NewStringDP(8, strings.Repeat("s", MaxDPStringLen)),
	}

	for _, dp := range tests {
		t.Run(dp.Type.String(), func(t *testing.T) {
			decoded, err := DecodeDataPoint(dp.Encode())
			if err != nil {
				t.Fatalf("DecodeDataPoint failed: %v", err)
			}
			if decoded.ID != dp.ID || decoded.Type != dp.Type {
				t.Errorf("header mismatch: got id=%d type=%s, want id=%d type=%s",
					decoded.ID, decoded.Type, dp.ID, dp.Type)
			}
			if !bytes.Equal(decoded.Encode(), dp.Encode()) {
				t.Errorf("re-encoded mismatch: % X vs % X", decoded.Encode(), dp.Encode())
			}
			if FormatValue(decoded) != FormatValue(dp) {
				t.Errorf("value mismatch: %s vs %s", FormatValue(decoded), FormatValue(dp))
			}
		})
	}
}

func TestDataPoint_Truncation(t *testing.T) {
	raw := NewRawDP(1, bytes.Repeat([]byte{0x11}, 100))
	if raw.Len != MaxDPRawLen {
		t.Errorf("raw Len = %d, want %d", raw.Len, MaxDPRawLen)
	}
	if len(raw.Encode()) != DPHeaderSize+MaxDPRawLen {
		t.Errorf("raw encoded length = %d, want %d", len(raw.Encode()), DPHeaderSize+MaxDPRawLen)
	}

	str := NewStringDP(2, strings.Repeat("x", 70))
	if len(str.Text()) != MaxDPStringLen {
		t.Errorf("string length = %d, want %d", len(str.Text()), MaxDPStringLen)
	}

	bitmap := NewBitmapDP(3, []byte{1, 2, 3, 4, 5, 6})
	if !bytes.Equal(bitmap.Bitmap(), []byte{1, 2, 3, 4}) {
		t.Errorf("bitmap = % X, want 01 02 03 04", bitmap.Bitmap())
	}
}

func TestDecodeDataPoint_StringAtCapacity(t *testing.T) {
	buf := []byte{0x09, byte(DPTypeString), 0x00, MaxDPRawLen}
	buf = append(buf, bytes.Repeat([]byte{'a'}, MaxDPRawLen)...)

	dp, err := DecodeDataPoint(buf)
	if err != nil {
		t.Fatalf("DecodeDataPoint failed: %v", err)
	}
	if len(dp.Text()) != MaxDPStringLen {
		t.Errorf("Text() length = %d, want %d", len(dp.Text()), MaxDPStringLen)
	}
}

func TestDecodeDataPoint_ShortValue(t *testing.T) {
	dp, err := DecodeDataPoint([]byte{0x01, byte(DPTypeValue), 0x00, 0x02, 0x00, 0x05})
	if err != nil {
		t.Fatalf("DecodeDataPoint failed: %v", err)
	}
	if dp.Value() != 0 {
		t.Errorf("Value() = %d, want 0 for a 2-byte payload", dp.Value())
	}
}

func TestDecodeDataPoint_Errors(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
	}{
		{"empty", []byte{}},
		{"short header", []byte{0x01, 0x01, 0x00}},
		{"declared length over capacity", append([]byte{0x01, 0x00, 0x00, 0x41}, make([]byte, 65)...)},
		{"truncated payload", []byte{0x01, 0x02, 0x00, 0x04, 0x00, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeDataPoint(tt.buf)
			if !errors.Is(err, ErrMalformedDP) {
				t.Errorf("expected ErrMalformedDP, got %v", err)
			}
		})
	}
}

func TestDecodeDataPoints(t *testing.T) {
	var payload []byte
	payload = NewBoolDP(1, true).Append(payload)
	payload = NewValueDP(2, 300).Append(payload)

	dps, err := DecodeDataPoints(payload)
	if err != nil {
		t.Fatalf("DecodeDataPoints failed: %v", err)
	}
	if len(dps) != 2 {
		t.Fatalf("expected 2 data points, got %d", len(dps))
	}
	if !dps[0].Bool() || dps[1].Value() != 300 {
		t.Errorf("unexpected values: %s / %s", FormatDataPoint(dps[0]), FormatDataPoint(dps[1]))
	}

	// Trailing garbage keeps the records decoded before it
	dps, err = DecodeDataPoints(append(payload, 0x03, 0x01))
	if !errors.Is(err, ErrMalformedDP) {
		t.Errorf("expected ErrMalformedDP, got %v", err)
	}
	if len(dps) != 2 {
		t.Errorf("expected 2 data points before the error, got %d", len(dps))
	}
}

// ============================================================
// Frame Encoding Tests
// ============================================================

func TestEncodeFrame_KnownVectors(t *testing.T) {
	tests := []struct {
		name     string
		version  byte
		cmd      Command
		payload  []byte
		expected []byte
	}{
		{"heartbeat", VersionModule, CmdHeartbeat, nil, []byte{0x55, 0xAA, 0x00, 0x00, 0x00, 0x00, 0xFF}},
		{"product info query", VersionModule, CmdProductInfo, nil, []byte{0x55, 0xAA, 0x00, 0x01, 0x00, 0x00, 0x00}},
		{"wifi status", VersionModule, CmdWiFiState, []byte{0x04}, []byte{0x55, 0xAA, 0x00, 0x03, 0x00, 0x01, 0x04, 0x07}},
		{"mcu heartbeat ack", VersionMCU, CmdHeartbeat, []byte{0x01}, []byte{0x55, 0xAA, 0x03, 0x00, 0x00, 0x01, 0x01, 0x04}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mustEncode(t, tt.version, tt.cmd, tt.payload)
			if !bytes.Equal(got, tt.expected) {
				t.Errorf("EncodeFrame() = % X, want % X", got, tt.expected)
			}
		})
	}
}

func TestEncodeFrame_PayloadLimit(t *testing.T) {
	if _, err := EncodeFrame(VersionModule, CmdDataQuery, make([]byte, MaxPayload)); err != nil {
		t.Errorf("payload of %d bytes should fit, got %v", MaxPayload, err)
	}

	_, err := EncodeFrame(VersionModule, CmdDataQuery, make([]byte, MaxPayload+1))
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestFrame_Bytes(t *testing.T) {
	f := Frame{Version: VersionMCU, Command: CmdStateUpload, Payload: NewEnumDP(1, 1).Encode()}
	if len(f.Bytes()) != f.Len() {
		t.Errorf("Bytes() length %d != Len() %d", len(f.Bytes()), f.Len())
	}
}

// ============================================================
// Receiver Tests
// ============================================================

func TestReceiver_SingleFrame(t *testing.T) {
	payload := NewBoolDP(1, true).Encode()
	data := mustEncode(t, VersionMCU, CmdStateUpload, payload)

	frames, errs := feedAll(NewReceiver(), data)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if frames[0].Version != VersionMCU || frames[0].Command != CmdStateUpload {
		t.Errorf("unexpected header: ver=0x%02X cmd=%s", frames[0].Version, frames[0].Command)
	}
	if !bytes.Equal(frames[0].Payload, payload) {
		t.Errorf("payload = % X, want % X", frames[0].Payload, payload)
	}
}

func TestReceiver_ResyncAfterNoise(t *testing.T) {
	data := []byte{0x00, 0x13, 0x55, 0x37, 0xAA, 0x55}
	data = append(data, mustEncode(t, VersionMCU, CmdHeartbeat, []byte{0x01})...)

	r := NewReceiver()
	frames, errs := feedAll(r, data)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(frames) != 1 || frames[0].Command != CmdHeartbeat {
		t.Fatalf("expected one heartbeat frame, got %v", frames)
	}
	if r.Buffered() != 0 {
		t.Errorf("Buffered() = %d, want 0", r.Buffered())
	}
}

func TestReceiver_BackToBack(t *testing.T) {
	first := mustEncode(t, VersionMCU, CmdHeartbeat, []byte{0x01})
	second := mustEncode(t, VersionMCU, CmdStateUpload, NewValueDP(2, 42).Encode())
	third := mustEncode(t, VersionMCU, CmdStateQuery, nil)

	r := NewReceiver()
	for _, b := range append(append(first, second...), third[:3]...) {
		r.Feed(b)
	}

	var frames []Frame
	for {
		frame, ok, err := r.Next()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !ok {
			break
		}
		frames = append(frames, frame)
	}

	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if frames[0].Command != CmdHeartbeat || frames[1].Command != CmdStateUpload {
		t.Errorf("unexpected commands: %s, %s", frames[0].Command, frames[1].Command)
	}
	if r.Buffered() != 3 {
		t.Errorf("trailing bytes not preserved: Buffered() = %d, want 3", r.Buffered())
	}

	// The rest of the third frame completes it
	rest, errs := feedAll(r, third[3:])
	if len(errs) != 0 || len(rest) != 1 || rest[0].Command != CmdStateQuery {
		t.Errorf("expected trailing STATE_QUERY frame, got %v (errors %v)", rest, errs)
	}
}

func TestReceiver_ChecksumMismatch(t *testing.T) {
	bad := []byte{0x55, 0xAA, 0x00, 0x00, 0x00, 0x00, 0x00}

	r := NewReceiver()
	for _, b := range bad {
		r.Feed(b)
	}
	_, ok, err := r.Next()
	if ok {
		t.Fatal("corrupted frame must not be delivered")
	}

	var csErr *ChecksumError
	if !errors.As(err, &csErr) {
		t.Fatalf("expected *ChecksumError, got %v", err)
	}
	if csErr.Expected != 0xFF || csErr.Actual != 0x00 {
		t.Errorf("ChecksumError = %+v, want expected 0xFF actual 0x00", csErr)
	}
	if !errors.Is(err, ErrChecksum) {
		t.Error("ChecksumError should unwrap to ErrChecksum")
	}

	// The stream recovers on the next valid frame
	frames, errs := feedAll(r, mustEncode(t, VersionMCU, CmdHeartbeat, []byte{0x01}))
	if len(errs) != 0 || len(frames) != 1 {
		t.Errorf("expected recovery, got frames=%d errors=%v", len(frames), errs)
	}
}

func TestReceiver_SingleByteCorruption(t *testing.T) {
	valid := mustEncode(t, VersionMCU, CmdStateUpload, NewBoolDP(1, true).Encode())

	for i := range valid {
		corrupted := append([]byte(nil), valid...)
		corrupted[i] ^= 0x01

		frames, _ := feedAll(NewReceiver(), corrupted)
		if len(frames) != 0 {
			t.Errorf("byte %d flipped: corrupted frame delivered: %+v", i, frames[0])
		}
	}
}

func TestReceiver_MalformedLength(t *testing.T) {
	r := NewReceiver()
	for _, b := range []byte{0x55, 0xAA, 0x00, 0x07, 0x01, 0x00} {
		r.Feed(b)
	}

	_, ok, err := r.Next()
	if ok || !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("expected ErrMalformedFrame, got ok=%v err=%v", ok, err)
	}
	if r.Buffered() != 0 {
		t.Errorf("buffer should be reset, Buffered() = %d", r.Buffered())
	}
}

func TestReceiver_Overflow(t *testing.T) {
	r := NewReceiver()
	for i := 0; i < RxBufferSize+44; i++ {
		r.Feed(0x00)
	}

	if r.Overflows() != 1 {
		t.Errorf("Overflows() = %d, want 1", r.Overflows())
	}
	// the byte that hit the full buffer is dropped
	if r.Buffered() != 43 {
		t.Errorf("Buffered() = %d, want 43", r.Buffered())
	}

	r.Reset()
	if r.Buffered() != 0 {
		t.Errorf("Buffered() after Reset = %d, want 0", r.Buffered())
	}
}

func TestReceiver_WaitsForCompleteFrame(t *testing.T) {
	data := mustEncode(t, VersionMCU, CmdStateUpload, NewStringDP(1, "partial").Encode())

	r := NewReceiver()
	frames, errs := feedAll(r, data[:len(data)-1])
	if len(frames) != 0 || len(errs) != 0 {
		t.Fatalf("incomplete frame produced frames=%d errors=%v", len(frames), errs)
	}
	frames, _ = feedAll(r, data[len(data)-1:])
	if len(frames) != 1 {
		t.Errorf("expected frame after final byte, got %d", len(frames))
	}
}

// ============================================================
// Product Info Tests
// ============================================================

func TestParseProductInfo(t *testing.T) {
	info, err := ParseProductInfo([]byte(`{"p":"a1b2c3d4e5f6g7h8","v":"1.0.0","m":2,"mt":10,"n":0,"ir":"5.12","low":0}`))
	if err != nil {
		t.Fatalf("ParseProductInfo failed: %v", err)
	}

	if info.ProductID != "a1b2c3d4e5f6g7h8" {
		t.Errorf("ProductID = %q", info.ProductID)
	}
	if info.Version != "1.0.0" {
		t.Errorf("Version = %q", info.Version)
	}
	if info.M != 2 || info.MT != 10 || info.N != 0 || info.Low != 0 {
		t.Errorf("ints = m:%d mt:%d n:%d low:%d", info.M, info.MT, info.N, info.Low)
	}
	if info.IR != "5.12" {
		t.Errorf("IR = %q", info.IR)
	}
}

func TestParseProductInfo_Whitespace(t *testing.T) {
	info, err := ParseProductInfo([]byte(`{ "p": "abc", "v": "2.1", "m": 3 }`))
	if err != nil {
		t.Fatalf("ParseProductInfo failed: %v", err)
	}
	if info.ProductID != "abc" || info.Version != "2.1" || info.M != 3 {
		t.Errorf("unexpected info: %+v", info)
	}
	if info.MT != -1 || info.Low != -1 {
		t.Errorf("absent ints should be -1: %+v", info)
	}
}

func TestParseProductInfo_Missing(t *testing.T) {
	tests := []struct {
		name string
		data string
		pid  string
	}{
		{"empty", ``, ""},
		{"no version", `{"p":"abc","m":0}`, "abc"},
		{"no product id", `{"v":"1.0.0"}`, ""},
		{"unterminated", `{"p":"abc`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := ParseProductInfo([]byte(tt.data))
			if !errors.Is(err, ErrMissingProductInfo) {
				t.Errorf("expected ErrMissingProductInfo, got %v", err)
			}
			if info.ProductID != tt.pid {
				t.Errorf("ProductID = %q, want %q", info.ProductID, tt.pid)
			}
		})
	}
}

// ============================================================
// Validator Tests
// ============================================================

func TestValidateDataPoint(t *testing.T) {
	short, _ := DecodeDataPoint([]byte{0x01, byte(DPTypeValue), 0x00, 0x02, 0x00, 0x01})
	wideBitmap, _ := DecodeDataPoint([]byte{0x02, byte(DPTypeBitmap), 0x00, 0x05, 1, 2, 3, 4, 5})
	unknown, _ := DecodeDataPoint([]byte{0x03, 0x09, 0x00, 0x01, 0x00})

	tests := []struct {
		name     string
		dp       DataPoint
		expected []AnomalyType
	}{
		{"valid bool", NewBoolDP(1, true), nil},
		{"valid string", NewStringDP(1, "ok"), nil},
		{"short value", short, []AnomalyType{AnomalyLengthMismatch}},
		{"wide bitmap", wideBitmap, []AnomalyType{AnomalyLengthMismatch}},
		{"unknown type", unknown, []AnomalyType{AnomalyUnknownType}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidateDataPoint(tt.dp)
			if len(got) != len(tt.expected) {
				t.Fatalf("got %d anomalies (%v), want %d", len(got), got, len(tt.expected))
			}
			for i := range got {
				if got[i].Type != tt.expected[i] {
					t.Errorf("anomaly %d = %d, want %d", i, got[i].Type, tt.expected[i])
				}
			}
		})
	}
}

func TestValidateFrame(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
		valid bool
	}{
		{"heartbeat", Frame{Command: CmdHeartbeat, Payload: []byte{0x01}}, true},
		{"state upload", Frame{Command: CmdStateUpload, Payload: NewBoolDP(1, true).Encode()}, true},
		{"truncated dp", Frame{Command: CmdStateUpload, Payload: []byte{0x01, 0x01}}, false},
		{"bad wifi status", Frame{Command: CmdWiFiState, Payload: []byte{0x10}}, false},
		{"unknown command", Frame{Command: Command(0x42)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateFrame(tt.frame)
			if (len(errs) == 0) != tt.valid {
				t.Errorf("ValidateFrame() = %v, valid=%v", errs, tt.valid)
			}
		})
	}
}

// ============================================================
// Formatter Tests
// ============================================================

func TestFormatDataPoint(t *testing.T) {
	tests := []struct {
		dp       DataPoint
		contains string
	}{
		{NewBoolDP(1, true), "Boolean Value: true"},
		{NewValueDP(2, -5), "Integer Value: -5"},
		{NewStringDP(3, "hello"), "String Value: hello"},
		{NewEnumDP(4, 2), "Enum Value: 2"},
		{NewBitmapDP(5, []byte{0xAB}), "Bitmap Value: AB"},
		{NewRawDP(6, []byte{0x01, 0x02}), "Raw Data: 01 02"},
	}

	for _, tt := range tests {
		t.Run(tt.dp.Type.String(), func(t *testing.T) {
			got := FormatDataPoint(tt.dp)
			if !strings.Contains(got, tt.contains) {
				t.Errorf("FormatDataPoint() = %q, missing %q", got, tt.contains)
			}
		})
	}
}

func TestFormatFrame(t *testing.T) {
	f := Frame{Version: VersionMCU, Command: CmdStateUpload, Payload: NewBoolDP(1, true).Encode()}
	out := FormatFrame(f)
	if !strings.Contains(out, "STATE_UPLOAD (0x07)") {
		t.Errorf("missing command name: %q", out)
	}
	if !strings.Contains(out, "Boolean Value: true") {
		t.Errorf("missing data point: %q", out)
	}

	out = FormatFrame(Frame{Command: CmdWiFiState, Payload: []byte{byte(WiFiCloudConnected)}})
	if !strings.Contains(out, "CLOUD_CONNECTED") {
		t.Errorf("missing wifi status: %q", out)
	}
}

func TestParseNames(t *testing.T) {
	if typ, err := ParseDPType("value"); err != nil || typ != DPTypeValue {
		t.Errorf("ParseDPType(value) = %v, %v", typ, err)
	}
	if _, err := ParseDPType("float"); err == nil {
		t.Error("ParseDPType(float) should fail")
	}
	if s, err := ParseWiFiStatus("cloud_connected"); err != nil || s != WiFiCloudConnected {
		t.Errorf("ParseWiFiStatus(cloud_connected) = %v, %v", s, err)
	}
}

// ============================================================
// Statistics Tests
// ============================================================

func TestStatistics_Observer(t *testing.T) {
	s := NewStatistics()

	s.FrameReceived(Frame{Command: CmdHeartbeat, Payload: []byte{0x01}})
	s.FrameReceived(Frame{Command: CmdStateUpload, Payload: append(NewBoolDP(1, true).Encode(), NewEnumDP(2, 1).Encode()...)})
	s.FrameReceived(Frame{Command: Command(0x42)})
	s.ReceiveError(&ChecksumError{Expected: 0x01, Actual: 0x02})
	s.ReceiveError(ErrMalformedFrame)
	s.FrameSent(Frame{Command: CmdHeartbeat})
	s.StateChanged(StateInitHeartbeat, StateQueryInfo)

	if s.TotalFrames != 3 || s.ValidFrames != 2 {
		t.Errorf("frames total=%d valid=%d, want 3/2", s.TotalFrames, s.ValidFrames)
	}
	if s.DataPoints != 2 {
		t.Errorf("DataPoints = %d, want 2", s.DataPoints)
	}
	if s.UnknownCommands != 1 || s.MalformedFrames != 1 {
		t.Errorf("unknown=%d malformed=%d, want 1/1", s.UnknownCommands, s.MalformedFrames)
	}
	if s.ChecksumErrors != 1 || s.FramingErrors != 1 {
		t.Errorf("checksum=%d framing=%d, want 1/1", s.ChecksumErrors, s.FramingErrors)
	}
	if s.SentFrames != 1 || s.StateChanges != 1 {
		t.Errorf("sent=%d state changes=%d, want 1/1", s.SentFrames, s.StateChanges)
	}
	if !strings.Contains(s.String(), "Checksum Errors:") {
		t.Error("summary should list checksum errors")
	}

	s.Reset()
	if s.TotalFrames != 0 || s.ErrorCount() != 0 {
		t.Error("Reset should clear counters")
	}
}

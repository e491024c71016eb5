// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package capture

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/Thermoquad/tuyastat/pkg/tuya"
	"github.com/fxamacker/cbor/v2"
)

func TestWriterReader_RoundTrip(t *testing.T) {
	var buf bytes.Buffer

	w, err := NewWriter(&buf, "/dev/ttyUSB0", 9600)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	heartbeat, _ := tuya.EncodeFrame(tuya.VersionModule, tuya.CmdHeartbeat, nil)
	upload, _ := tuya.EncodeFrame(tuya.VersionMCU, tuya.CmdStateUpload, tuya.NewBoolDP(1, true).Encode())

	if err := w.Write(DirectionTx, heartbeat); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := w.Write(DirectionRx, upload); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if w.Count() != 2 {
		t.Errorf("Count() = %d, want 2", w.Count())
	}

	r, err := NewReader(&buf)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}

	h := r.Header()
	if h.Session != w.Header().Session {
		t.Errorf("session = %q, want %q", h.Session, w.Header().Session)
	}
	if _, err := h.SessionID(); err != nil {
		t.Errorf("session is not a UUID: %v", err)
	}
	if h.Source != "/dev/ttyUSB0" || h.Baud != 9600 {
		t.Errorf("header source=%q baud=%d", h.Source, h.Baud)
	}

	expected := []struct {
		dir   Direction
		frame []byte
	}{
		{DirectionTx, heartbeat},
		{DirectionRx, upload},
	}
	for i, want := range expected {
		rec, err := r.Next()
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		if rec.Direction != want.dir {
			t.Errorf("record %d direction = %s, want %s", i, rec.Direction, want.dir)
		}
		if !bytes.Equal(rec.Frame, want.frame) {
			t.Errorf("record %d frame = % X, want % X", i, rec.Frame, want.frame)
		}
		if rec.Timestamp().Before(h.StartTime()) {
			t.Errorf("record %d predates capture start", i)
		}
	}

	if _, err := r.Next(); err != io.EOF {
		t.Errorf("expected io.EOF at end, got %v", err)
	}
}

func TestNewReader_BadHeader(t *testing.T) {
	tests := []struct {
		name string
		data func() []byte
	}{
		{"empty", func() []byte { return nil }},
		{"wrong magic", func() []byte {
			data, _ := cbor.Marshal(Header{Magic: "other", Version: FormatVersion})
			return data
		}},
		{"future version", func() []byte {
			data, _ := cbor.Marshal(Header{Magic: Magic, Version: FormatVersion + 1})
			return data
		}},
		{"not cbor", func() []byte { return []byte{0xFF, 0xFF} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReader(bytes.NewReader(tt.data()))
			if !errors.Is(err, ErrBadHeader) {
				t.Errorf("expected ErrBadHeader, got %v", err)
			}
		})
	}
}

func TestReader_TruncatedRecord(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, "", 0)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	if err := w.Write(DirectionRx, []byte{0x55, 0xAA, 0x03, 0x00, 0x00, 0x00, 0x02}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	data := buf.Bytes()[:buf.Len()-2]
	r, err := NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	if _, err := r.Next(); err == nil || err == io.EOF {
		t.Errorf("expected decode error for truncated record, got %v", err)
	}
}

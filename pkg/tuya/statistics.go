// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tuya

import (
	"errors"
	"fmt"
	"time"
)

// Statistics tracks frame statistics and error rates.
// It implements Observer so it can be attached to an Engine with WithObserver.
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames      uint64
	ValidFrames      uint64
	SentFrames       uint64
	ChecksumErrors   uint64
	FramingErrors    uint64
	TransportErrors  uint64
	MalformedFrames  uint64
	LengthMismatches uint64
	UnknownTypes     uint64
	UnknownCommands  uint64
	DataPoints       uint64
	StateChanges     uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update updates statistics based on a frame and its errors
func (s *Statistics) Update(frame *Frame, decodeErr error, validationErrors []ValidationError) {
	s.LastUpdateTime = time.Now()

	if decodeErr != nil {
		s.countError(decodeErr)
		return
	}
	if frame == nil {
		return
	}

	s.TotalFrames++
	if frame.Command == CmdStateUpload || frame.Command == CmdDataQuery {
		dps, _ := DecodeDataPoints(frame.Payload)
		s.DataPoints += uint64(len(dps))
	}

	if len(validationErrors) == 0 {
		s.ValidFrames++
		return
	}

	for _, v := range validationErrors {
		switch v.Type {
		case AnomalyLengthMismatch:
			s.LengthMismatches++
		case AnomalyUnknownType:
			s.UnknownTypes++
		case AnomalyUnknownCommand:
			s.UnknownCommands++
		}
	}
	s.MalformedFrames++
}

func (s *Statistics) countError(err error) {
	switch {
	case errors.Is(err, ErrChecksum):
		s.ChecksumErrors++
	case errors.Is(err, ErrTransport):
		s.TransportErrors++
	default:
		s.FramingErrors++
	}
}

// FrameReceived implements Observer
func (s *Statistics) FrameReceived(f Frame) {
	s.Update(&f, nil, ValidateFrame(f))
}

// FrameSent implements Observer
func (s *Statistics) FrameSent(Frame) {
	s.SentFrames++
}

// ReceiveError implements Observer
func (s *Statistics) ReceiveError(err error) {
	s.Update(nil, err, nil)
}

// StateChanged implements Observer
func (s *Statistics) StateChanged(_, _ State) {
	s.StateChanges++
}

// ErrorCount returns the total number of link and frame errors
func (s *Statistics) ErrorCount() uint64 {
	return s.ChecksumErrors + s.FramingErrors + s.TransportErrors + s.MalformedFrames
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		s.ErrorRate = float64(s.ErrorCount()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	percent := func(n uint64) float64 {
		if s.TotalFrames == 0 {
			return 0
		}
		return float64(n) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, percent(s.ValidFrames))
	result += fmt.Sprintf("Data Points:     %8d\n", s.DataPoints)

	if s.SentFrames > 0 {
		result += fmt.Sprintf("Sent Frames:     %8d\n", s.SentFrames)
	}
	if s.ChecksumErrors > 0 {
		result += fmt.Sprintf("Checksum Errors: %8d\n", s.ChecksumErrors)
	}
	if s.FramingErrors > 0 {
		result += fmt.Sprintf("Framing Errors:  %8d\n", s.FramingErrors)
	}
	if s.TransportErrors > 0 {
		result += fmt.Sprintf("Link Errors:     %8d\n", s.TransportErrors)
	}
	if s.MalformedFrames > 0 {
		result += fmt.Sprintf("Malformed Frames:%8d (%.1f%%)\n", s.MalformedFrames, percent(s.MalformedFrames))
		if s.LengthMismatches > 0 {
			result += fmt.Sprintf("  Length Mismatch:  %5d\n", s.LengthMismatches)
		}
		if s.UnknownTypes > 0 {
			result += fmt.Sprintf("  Unknown DP Type:  %5d\n", s.UnknownTypes)
		}
		if s.UnknownCommands > 0 {
			result += fmt.Sprintf("  Unknown Command:  %5d\n", s.UnknownCommands)
		}
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}

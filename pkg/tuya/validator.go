// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tuya

import "fmt"

// AnomalyType represents different types of frame anomalies
type AnomalyType int

const (
	AnomalyLengthMismatch AnomalyType = iota
	AnomalyUnknownType
	AnomalyMalformedDP
	AnomalyUnknownCommand
	AnomalyInvalidValue
)

// ValidationError represents a frame or data point validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateFrame validates a decoded frame and every data point it carries.
// Returns a slice of validation errors (empty if the frame is valid)
func ValidateFrame(f Frame) []ValidationError {
	errors := []ValidationError{}

	switch f.Command {
	case CmdHeartbeat:
		if len(f.Payload) > 1 {
			errors = append(errors, ValidationError{
				Type:    AnomalyLengthMismatch,
				Message: fmt.Sprintf("Heartbeat payload too long (%d bytes, max 1)", len(f.Payload)),
				Details: map[string]interface{}{"length": len(f.Payload), "max": 1},
			})
		}

	case CmdWiFiState:
		if len(f.Payload) != 1 {
			errors = append(errors, ValidationError{
				Type:    AnomalyLengthMismatch,
				Message: fmt.Sprintf("WiFi state payload length %d (expected 1)", len(f.Payload)),
				Details: map[string]interface{}{"length": len(f.Payload), "expected": 1},
			})
		} else if WiFiStatus(f.Payload[0]) > WiFiSmartAndAPConfig {
			errors = append(errors, ValidationError{
				Type:    AnomalyInvalidValue,
				Message: fmt.Sprintf("Invalid WiFi status 0x%02X", f.Payload[0]),
				Details: map[string]interface{}{"status": f.Payload[0]},
			})
		}

	case CmdStateUpload, CmdDataQuery:
		dps, err := DecodeDataPoints(f.Payload)
		if err != nil {
			errors = append(errors, ValidationError{
				Type:    AnomalyMalformedDP,
				Message: err.Error(),
				Details: map[string]interface{}{"decoded": len(dps), "length": len(f.Payload)},
			})
		}
		for _, dp := range dps {
			errors = append(errors, ValidateDataPoint(dp)...)
		}

	case CmdProductInfo, CmdWorkMode, CmdWiFiReset, CmdWiFiMode, CmdStateQuery:

	default:
		errors = append(errors, ValidationError{
			Type:    AnomalyUnknownCommand,
			Message: fmt.Sprintf("Unknown command 0x%02X", byte(f.Command)),
			Details: map[string]interface{}{"command": byte(f.Command)},
		})
	}

	return errors
}

// ValidateDataPoint checks the declared length against the data point type
func ValidateDataPoint(dp DataPoint) []ValidationError {
	expected := -1
	switch dp.Type {
	case DPTypeBool, DPTypeEnum:
		expected = 1
	case DPTypeValue:
		expected = 4
	case DPTypeBitmap:
		if dp.Len > MaxDPBitmapLen {
			return []ValidationError{{
				Type:    AnomalyLengthMismatch,
				Message: fmt.Sprintf("DP %d: bitmap length %d (max %d)", dp.ID, dp.Len, MaxDPBitmapLen),
				Details: map[string]interface{}{"id": dp.ID, "length": dp.Len, "max": MaxDPBitmapLen},
			}}
		}
	case DPTypeRaw, DPTypeString:
	default:
		return []ValidationError{{
			Type:    AnomalyUnknownType,
			Message: fmt.Sprintf("DP %d: unknown type 0x%02X", dp.ID, byte(dp.Type)),
			Details: map[string]interface{}{"id": dp.ID, "type": byte(dp.Type)},
		}}
	}

	if expected >= 0 && int(dp.Len) != expected {
		return []ValidationError{{
			Type:    AnomalyLengthMismatch,
			Message: fmt.Sprintf("DP %d: %s length %d (expected %d)", dp.ID, dp.Type, dp.Len, expected),
			Details: map[string]interface{}{"id": dp.ID, "length": dp.Len, "expected": expected},
		}}
	}
	return nil
}

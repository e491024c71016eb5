// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tuya

import (
	"fmt"
	"strings"
	"time"
)

// String returns the protocol name of the command
func (c Command) String() string {
	switch c {
	case CmdHeartbeat:
		return "HEARTBEAT"
	case CmdProductInfo:
		return "PRODUCT_INFO"
	case CmdWorkMode:
		return "WORK_MODE"
	case CmdWiFiState:
		return "WIFI_STATE"
	case CmdWiFiReset:
		return "WIFI_RESET"
	case CmdWiFiMode:
		return "WIFI_MODE"
	case CmdDataQuery:
		return "DATA_QUERY"
	case CmdStateUpload:
		return "STATE_UPLOAD"
	case CmdStateQuery:
		return "STATE_QUERY"
	default:
		return "UNKNOWN"
	}
}

// String returns the data point type name
func (t DPType) String() string {
	switch t {
	case DPTypeRaw:
		return "RAW"
	case DPTypeBool:
		return "BOOL"
	case DPTypeValue:
		return "VALUE"
	case DPTypeString:
		return "STRING"
	case DPTypeEnum:
		return "ENUM"
	case DPTypeBitmap:
		return "BITMAP"
	default:
		return "UNKNOWN"
	}
}

// String returns the WiFi status name
func (s WiFiStatus) String() string {
	switch s {
	case WiFiSmartConfig:
		return "SMART_CONFIG"
	case WiFiAPConfig:
		return "AP_CONFIG"
	case WiFiNotConnected:
		return "NOT_CONNECTED"
	case WiFiConnected:
		return "CONNECTED"
	case WiFiCloudConnected:
		return "CLOUD_CONNECTED"
	case WiFiLowPower:
		return "LOW_POWER"
	case WiFiSmartAndAPConfig:
		return "SMART_AND_AP_CONFIG"
	default:
		return "UNKNOWN"
	}
}

// ParseDPType parses a type name (case-insensitive) such as "bool" or "value"
func ParseDPType(name string) (DPType, error) {
	for t := DPTypeRaw; t <= DPTypeBitmap; t++ {
		if strings.EqualFold(name, t.String()) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown data point type %q", name)
}

// ParseWiFiStatus parses a status name (case-insensitive) such as "cloud_connected"
func ParseWiFiStatus(name string) (WiFiStatus, error) {
	for s := WiFiSmartConfig; s <= WiFiSmartAndAPConfig; s++ {
		if strings.EqualFold(name, s.String()) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown wifi status %q", name)
}

// FormatFrame formats a frame into a human-readable string
func FormatFrame(f Frame) string {
	ts := f.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	result := fmt.Sprintf("[%s] %s (0x%02X) ver=0x%02X len=%d\n",
		ts.Format("15:04:05.000"), f.Command, byte(f.Command), f.Version, len(f.Payload))
	return result + FormatPayload(f.Command, f.Payload)
}

// FormatPayload formats a frame payload based on its command
func FormatPayload(cmd Command, payload []byte) string {
	if len(payload) == 0 {
		return "  (no payload)\n"
	}

	switch cmd {
	case CmdHeartbeat:
		if payload[0] == 0x01 {
			return "  Heartbeat: acknowledged\n"
		}
		return fmt.Sprintf("  Heartbeat: 0x%02X\n", payload[0])

	case CmdProductInfo:
		info, err := ParseProductInfo(payload)
		if err != nil {
			return fmt.Sprintf("  Info: %q (%v)\n", payload, err)
		}
		return fmt.Sprintf("  Product: %s, Version: %s\n", info.ProductID, info.Version)

	case CmdWiFiState:
		status := WiFiStatus(payload[0])
		return fmt.Sprintf("  Status: %s (0x%02X)\n", status, payload[0])

	case CmdDataQuery, CmdStateUpload:
		dps, err := DecodeDataPoints(payload)
		var sb strings.Builder
		for _, dp := range dps {
			sb.WriteString("  ")
			sb.WriteString(FormatDataPoint(dp))
			sb.WriteString("\n")
		}
		if err != nil {
			fmt.Fprintf(&sb, "  Malformed: %v\n", err)
		}
		return sb.String()

	default:
		return fmt.Sprintf("  Payload: % X\n", payload)
	}
}

// FormatDataPoint formats a data point on a single line
func FormatDataPoint(dp DataPoint) string {
	head := fmt.Sprintf("DP id: %d, type: %s[%d], len: %d", dp.ID, dp.Type, byte(dp.Type), dp.Len)

	switch dp.Type {
	case DPTypeRaw:
		return fmt.Sprintf("%s Raw Data: % X", head, dp.Raw())
	case DPTypeBool:
		return fmt.Sprintf("%s Boolean Value: %t", head, dp.Bool())
	case DPTypeValue:
		return fmt.Sprintf("%s Integer Value: %d", head, dp.Value())
	case DPTypeString:
		return fmt.Sprintf("%s String Value: %s", head, dp.Text())
	case DPTypeEnum:
		if dp.Len == 0 {
			return head + " Enum Value: (empty)"
		}
		return fmt.Sprintf("%s Enum Value: %d", head, dp.Enum())
	case DPTypeBitmap:
		return fmt.Sprintf("%s Bitmap Value: % X", head, dp.Bitmap())
	default:
		return head
	}
}

// FormatValue returns just the value of a data point as text
func FormatValue(dp DataPoint) string {
	switch dp.Type {
	case DPTypeBool:
		return fmt.Sprintf("%t", dp.Bool())
	case DPTypeValue:
		return fmt.Sprintf("%d", dp.Value())
	case DPTypeString:
		return dp.Text()
	case DPTypeEnum:
		return fmt.Sprintf("%d", dp.Enum())
	default:
		return fmt.Sprintf("%X", dp.Raw())
	}
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tuya

import (
	"bytes"
	"fmt"
	"strconv"
)

// ProductInfo holds the fields reported in a PRODUCT_INFO response.
//
// The MCU sends a JSON-like text such as {"p":"abcdefgh","v":"1.0.0","m":0}.
// Only ProductID and Version drive the engine; the remaining fields are
// informational. Integer fields are -1 when absent.
type ProductInfo struct {
	ProductID string
	Version   string
	M         int
	MT        int
	N         int
	Low       int
	IR        string
}

// ParseProductInfo scans a PRODUCT_INFO payload for its known keys.
//
// The scan is tolerant: it searches for each `"key":` marker independently
// and does not require the text to be valid JSON. The result carries every
// field that was found; ErrMissingProductInfo is returned when either the
// product ID or the version is absent.
func ParseProductInfo(data []byte) (ProductInfo, error) {
	if len(data) > RxBufferSize-1 {
		data = data[:RxBufferSize-1]
	}

	info := ProductInfo{M: -1, MT: -1, N: -1, Low: -1}

	pid, foundPID := scanString(data, "p")
	ver, foundVer := scanString(data, "v")
	info.ProductID = pid
	info.Version = ver
	info.IR, _ = scanString(data, "ir")
	info.M = scanInt(data, "m", -1)
	info.MT = scanInt(data, "mt", -1)
	info.N = scanInt(data, "n", -1)
	info.Low = scanInt(data, "low", -1)

	switch {
	case !foundPID && !foundVer:
		return info, fmt.Errorf("%w: product id and version", ErrMissingProductInfo)
	case !foundPID:
		return info, fmt.Errorf("%w: product id", ErrMissingProductInfo)
	case !foundVer:
		return info, fmt.Errorf("%w: version", ErrMissingProductInfo)
	}
	return info, nil
}

// keyMarker returns the offset just past `"key":` or -1
func keyMarker(data []byte, key string) int {
	marker := []byte(`"` + key + `":`)
	i := bytes.Index(data, marker)
	if i < 0 {
		return -1
	}
	return i + len(marker)
}

// scanString finds `"key":` followed by the next quoted string
func scanString(data []byte, key string) (string, bool) {
	pos := keyMarker(data, key)
	if pos < 0 {
		return "", false
	}

	start := bytes.IndexByte(data[pos:], '"')
	if start < 0 {
		return "", false
	}
	rest := data[pos+start+1:]
	end := bytes.IndexByte(rest, '"')
	if end < 0 {
		return "", false
	}
	return string(rest[:end]), true
}

// scanInt finds `"key":` followed by a decimal integer, skipping leading spaces
func scanInt(data []byte, key string, fallback int) int {
	pos := keyMarker(data, key)
	if pos < 0 {
		return fallback
	}

	rest := bytes.TrimLeft(data[pos:], " \t\r\n")
	end := 0
	if end < len(rest) && (rest[end] == '-' || rest[end] == '+') {
		end++
	}
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}

	n, err := strconv.Atoi(string(rest[:end]))
	if err != nil {
		return fallback
	}
	return n
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tuya

import (
	"time"

	"go.uber.org/zap"
)

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the engine logger. A nil logger keeps the no-op default.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock replaces the system clock
func WithClock(c Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithVersion sets the protocol version byte carried in outbound frames
func WithVersion(v byte) Option {
	return func(e *Engine) {
		e.txVersion = v
	}
}

// WithTiming overrides the heartbeat, product query and keepalive intervals.
// Zero values keep the defaults.
func WithTiming(heartbeat, query, keepalive time.Duration) Option {
	return func(e *Engine) {
		if heartbeat > 0 {
			e.heartbeatInterval = uint32(heartbeat.Milliseconds())
		}
		if query > 0 {
			e.queryInterval = uint32(query.Milliseconds())
		}
		if keepalive > 0 {
			e.keepaliveInterval = uint32(keepalive.Milliseconds())
		}
	}
}

// WithObserver attaches a link observer such as Statistics
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

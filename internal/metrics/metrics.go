// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics exports link and engine counters to Prometheus
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Thermoquad/tuyastat/pkg/tuya"
)

const namespace = "tuya"

// NewRegistry creates a registry with the Go and process collectors registered
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns the HTTP handler exposing reg
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Collector holds the protocol metrics. It implements tuya.Observer.
type Collector struct {
	FramesReceived *prometheus.CounterVec // labels: command
	FramesSent     *prometheus.CounterVec // labels: command
	ReceiveErrors  *prometheus.CounterVec // labels: kind
	DataPoints     *prometheus.CounterVec // labels: type
	StateChanges   prometheus.Counter
	State          prometheus.Gauge
	QueueRejected  *prometheus.CounterVec // labels: queue
	Reconnects     prometheus.Counter
}

// NewCollector registers and returns the protocol metrics
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Valid frames received from the MCU.",
		}, []string{"command"}),
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Frames written to the MCU.",
		}, []string{"command"}),
		ReceiveErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receive_errors_total",
			Help:      "Receive passes aborted by an error.",
		}, []string{"kind"}),
		DataPoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "data_points_total",
			Help:      "Data points reported by the MCU.",
		}, []string{"type"}),
		StateChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_changes_total",
			Help:      "Engine state transitions.",
		}),
		State: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "engine_state",
			Help:      "Current engine state (0 init heartbeat, 1 query info, 2 initialized).",
		}),
		QueueRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_rejected_total",
			Help:      "Outbound requests rejected because a queue stayed full.",
		}, []string{"queue"}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Link reconnects after a fault.",
		}),
	}
	reg.MustRegister(c.FramesReceived, c.FramesSent, c.ReceiveErrors, c.DataPoints,
		c.StateChanges, c.State, c.QueueRejected, c.Reconnects)
	return c
}

// FrameReceived implements tuya.Observer
func (c *Collector) FrameReceived(f tuya.Frame) {
	c.FramesReceived.WithLabelValues(f.Command.String()).Inc()
	if f.Command != tuya.CmdStateUpload {
		return
	}
	dps, _ := tuya.DecodeDataPoints(f.Payload)
	for _, dp := range dps {
		c.DataPoints.WithLabelValues(dp.Type.String()).Inc()
	}
}

// FrameSent implements tuya.Observer
func (c *Collector) FrameSent(f tuya.Frame) {
	c.FramesSent.WithLabelValues(f.Command.String()).Inc()
}

// ReceiveError implements tuya.Observer
func (c *Collector) ReceiveError(err error) {
	c.ReceiveErrors.WithLabelValues(ErrorKind(err)).Inc()
}

// StateChanged implements tuya.Observer
func (c *Collector) StateChanged(_, to tuya.State) {
	c.StateChanges.Inc()
	c.State.Set(float64(to))
}

// QueueFull records a rejected enqueue on the named queue
func (c *Collector) QueueFull(queue string) {
	c.QueueRejected.WithLabelValues(queue).Inc()
}

// Reconnect records a link reconnect
func (c *Collector) Reconnect() {
	c.Reconnects.Inc()
}

// ErrorKind classifies a receive error for the kind label
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, tuya.ErrChecksum):
		return "checksum"
	case errors.Is(err, tuya.ErrMalformedFrame):
		return "malformed"
	case errors.Is(err, tuya.ErrTransport):
		return "transport"
	default:
		return "other"
	}
}

// Serve exposes reg on addr under /metrics until ctx is cancelled
func Serve(ctx context.Context, addr string, reg *prometheus.Registry, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(reg))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

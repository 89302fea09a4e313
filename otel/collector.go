// Package otel provides OpenTelemetry integration for talos's SMR and
// hash-map operational telemetry.
//
// This package implements the talos.MetricsCollector interface using
// OpenTelemetry, enabling multi-backend export (Prometheus, Jaeger,
// DataDog, Grafana) of the domain's hazard-pointer and resize counters
// without pulling OTEL into the core module.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0
package otel

import (
	"context"
	"errors"

	"github.com/agilira/talos"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func kindAttr(kind string) attribute.KeyValue {
	return attribute.String("kind", kind)
}

// OTelMetricsCollector implements talos.MetricsCollector using
// OpenTelemetry instruments.
//
// Thread-safety: safe for concurrent use by multiple goroutines. The
// underlying OTEL instruments are themselves thread-safe.
type OTelMetricsCollector struct {
	hazardAcquires metric.Int64Counter
	retires        metric.Int64Counter
	scanDuration   metric.Int64Histogram
	scanReclaimed  metric.Int64Histogram
	reprobes       metric.Int64Histogram
	resizes        metric.Int64Counter
	resizeOldLen   metric.Int64Histogram
	resizeNewLen   metric.Int64Histogram
	copyChunks     metric.Int64Histogram
	panicCopies    metric.Int64Counter
	counterGrows   metric.Int64Counter
}

// Options configures an OTelMetricsCollector.
type Options struct {
	// MeterName is the name of the OpenTelemetry meter.
	// Default: "github.com/agilira/talos"
	MeterName string
}

// Option is a functional option for configuring OTelMetricsCollector.
type Option func(*Options)

// WithMeterName sets a custom meter name, useful for distinguishing
// metrics from multiple Domain instances.
func WithMeterName(name string) Option {
	return func(o *Options) {
		o.MeterName = name
	}
}

// NewOTelMetricsCollector creates a new OpenTelemetry-backed
// talos.MetricsCollector.
//
// provider must not be nil. The returned collector is ready to pass as
// Config.MetricsCollector to talos.NewDomain.
func NewOTelMetricsCollector(provider metric.MeterProvider, opts ...Option) (*OTelMetricsCollector, error) {
	if provider == nil {
		return nil, errors.New("meter provider cannot be nil")
	}

	options := Options{MeterName: "github.com/agilira/talos"}
	for _, opt := range opts {
		opt(&options)
	}

	meter := provider.Meter(options.MeterName)
	c := &OTelMetricsCollector{}
	var err error

	if c.hazardAcquires, err = meter.Int64Counter(
		"talos_hazard_acquires_total",
		metric.WithDescription("Total number of hazard-slot checkouts"),
	); err != nil {
		return nil, err
	}

	if c.retires, err = meter.Int64Counter(
		"talos_retires_total",
		metric.WithDescription("Total number of objects handed to the domain for reclamation"),
	); err != nil {
		return nil, err
	}

	if c.scanDuration, err = meter.Int64Histogram(
		"talos_scan_duration_ns",
		metric.WithDescription("Duration of a domain reclamation scan in nanoseconds"),
		metric.WithUnit("ns"),
	); err != nil {
		return nil, err
	}

	if c.scanReclaimed, err = meter.Int64Histogram(
		"talos_scan_reclaimed",
		metric.WithDescription("Number of retired entries reclaimed per scan"),
	); err != nil {
		return nil, err
	}

	if c.reprobes, err = meter.Int64Histogram(
		"talos_map_reprobes",
		metric.WithDescription("Number of reprobes taken by a hash-map probe call"),
	); err != nil {
		return nil, err
	}

	if c.resizes, err = meter.Int64Counter(
		"talos_map_resizes_total",
		metric.WithDescription("Total number of hash-map resizes triggered"),
	); err != nil {
		return nil, err
	}

	if c.resizeOldLen, err = meter.Int64Histogram(
		"talos_map_resize_old_len",
		metric.WithDescription("Old table capacity at the time a resize was triggered"),
	); err != nil {
		return nil, err
	}

	if c.resizeNewLen, err = meter.Int64Histogram(
		"talos_map_resize_new_len",
		metric.WithDescription("New table capacity chosen by a resize"),
	); err != nil {
		return nil, err
	}

	if c.copyChunks, err = meter.Int64Histogram(
		"talos_map_copy_chunk_slots",
		metric.WithDescription("Slots copied per cooperative-resize chunk"),
	); err != nil {
		return nil, err
	}

	if c.panicCopies, err = meter.Int64Counter(
		"talos_map_panic_copies_total",
		metric.WithDescription("Total number of resizes that fell into panic-copy mode"),
	); err != nil {
		return nil, err
	}

	if c.counterGrows, err = meter.Int64Counter(
		"talos_counter_grows_total",
		metric.WithDescription("Total number of striped-counter cell-array growths"),
	); err != nil {
		return nil, err
	}

	return c, nil
}

// RecordHazardAcquire implements talos.MetricsCollector.
func (c *OTelMetricsCollector) RecordHazardAcquire() {
	c.hazardAcquires.Add(context.Background(), 1)
}

// RecordRetire implements talos.MetricsCollector.
func (c *OTelMetricsCollector) RecordRetire(kind string) {
	c.retires.Add(context.Background(), 1, metric.WithAttributes(kindAttr(kind)))
}

// RecordScan implements talos.MetricsCollector.
func (c *OTelMetricsCollector) RecordScan(durationNs int64, reclaimed int) {
	ctx := context.Background()
	c.scanDuration.Record(ctx, durationNs)
	c.scanReclaimed.Record(ctx, int64(reclaimed))
}

// RecordReprobe implements talos.MetricsCollector.
func (c *OTelMetricsCollector) RecordReprobe(count int) {
	c.reprobes.Record(context.Background(), int64(count))
}

// RecordResize implements talos.MetricsCollector.
func (c *OTelMetricsCollector) RecordResize(oldLen, newLen int) {
	ctx := context.Background()
	c.resizes.Add(ctx, 1)
	c.resizeOldLen.Record(ctx, int64(oldLen))
	c.resizeNewLen.Record(ctx, int64(newLen))
}

// RecordCopyChunk implements talos.MetricsCollector.
func (c *OTelMetricsCollector) RecordCopyChunk(slots int) {
	c.copyChunks.Record(context.Background(), int64(slots))
}

// RecordPanicCopy implements talos.MetricsCollector.
func (c *OTelMetricsCollector) RecordPanicCopy() {
	c.panicCopies.Add(context.Background(), 1)
}

// RecordCounterGrow implements talos.MetricsCollector.
func (c *OTelMetricsCollector) RecordCounterGrow(oldLen, newLen int) {
	c.counterGrows.Add(context.Background(), 1)
}

var _ talos.MetricsCollector = (*OTelMetricsCollector)(nil)

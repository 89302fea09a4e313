// Package otel provides OpenTelemetry integration for talos's operational
// telemetry.
//
// # Overview
//
// This package implements the talos.MetricsCollector interface using
// OpenTelemetry, enabling multi-backend export (Prometheus, Jaeger,
// DataDog, Grafana) of a *talos.Domain's hazard-pointer, reclamation and
// hash-map resize activity.
//
// The package is a separate module so the talos core stays free of OTEL
// dependencies; applications that don't need metrics collection don't pay
// for them.
//
// # Installation
//
//	go get github.com/agilira/talos/otel
//
// # Quick Start
//
//	import (
//	    "github.com/agilira/talos"
//	    talosotel "github.com/agilira/talos/otel"
//	    "go.opentelemetry.io/otel/exporters/prometheus"
//	    "go.opentelemetry.io/otel/sdk/metric"
//	)
//
//	exporter, err := prometheus.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	provider := metric.NewMeterProvider(metric.WithReader(exporter))
//	defer provider.Shutdown(context.Background())
//
//	collector, err := talosotel.NewOTelMetricsCollector(provider)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	domain := talos.NewDomain(talos.Config{
//	    MetricsCollector: collector,
//	})
//
//	m := talos.NewMap[string, int](domain, talos.StringHash, func(a, b string) bool { return a == b })
//	m.Put("a", 1)
//
//	http.Handle("/metrics", promhttp.Handler())
//	log.Fatal(http.ListenAndServe(":2112", nil))
//
// # Metrics Exposed
//
// Counters:
//   - talos_hazard_acquires_total: hazard-slot checkouts
//   - talos_retires_total: objects handed to the domain for reclamation (by kind)
//   - talos_map_resizes_total: hash-map resizes triggered
//   - talos_map_panic_copies_total: resizes that fell into panic-copy mode
//   - talos_counter_grows_total: striped-counter cell-array growths
//
// Histograms (with automatic percentiles):
//   - talos_scan_duration_ns: reclamation scan duration
//   - talos_scan_reclaimed: entries reclaimed per scan
//   - talos_map_reprobes: reprobes taken per probe call
//   - talos_map_resize_old_len / talos_map_resize_new_len: resize capacities
//   - talos_map_copy_chunk_slots: slots copied per cooperative-resize chunk
//
// # Prometheus Queries
//
// Reclamation scan duration, p99:
//
//	histogram_quantile(0.99, rate(talos_scan_duration_ns_bucket[5m]))
//
// Reprobe pressure, p95:
//
//	histogram_quantile(0.95, rate(talos_map_reprobes_bucket[5m]))
//
// Resize rate:
//
//	rate(talos_map_resizes_total[5m])
//
// # Thread Safety
//
// All methods are safe for concurrent use; the underlying OTEL
// instruments are themselves lock-free.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│        talos (Core Module)          │
//	│  • No OTEL dependencies             │
//	│  • MetricsCollector interface       │
//	│  • NoOpMetricsCollector (default)   │
//	└──────────────┬──────────────────────┘
//	               │ implements
//	               ▼
//	┌─────────────────────────────────────┐
//	│     talos/otel (This Package)       │
//	│  • OTelMetricsCollector             │
//	│  • OTEL SDK dependencies            │
//	└──────────────┬──────────────────────┘
//	               │ exports to
//	               ▼
//	        Prometheus / Jaeger / DataDog
//
// # Compatibility
//
//   - Go: 1.25+
//   - OpenTelemetry: v1.31.0+
package otel

// Package metrics exposes Prometheus metrics for script runs and isolates.
//
// The Collector satisfies testscript.Observer and can decorate any
// sandbox.Manager to track live isolates.
//
// Usage:
//
//	reg := prometheus.NewRegistry()
//	m := metrics.New(reg)
//	isolates := m.InstrumentIsolates(sandbox.NewGojaManager(logger))
//	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
package metrics

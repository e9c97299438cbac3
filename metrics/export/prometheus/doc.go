// Package prometheus exposes the engine's in-process counters through
// prometheus/client_golang.
//
// [Exporter] is a prometheus.Collector that reads a snapshot on every
// scrape. It registers itself on a private registry, never the global
// one; mount [Exporter.Handler] or add collectors via [Exporter.Registry].
package prometheus

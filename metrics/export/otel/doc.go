// Package otel publishes engine counters as OpenTelemetry instruments.
//
// Every counter is one series of the stackauth.events counter, keyed by
// the "event" attribute ("login_success", "refresh_failure", ...). The
// resolve latency histogram is published as cumulative bucket gauges
// keyed by "le", next to a sample count. Values are read from a single
// snapshot per collection; the caller owns the MeterProvider and its
// readers.
package otel

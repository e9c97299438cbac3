package otel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrEthical07/stackauth"
	"github.com/MrEthical07/stackauth/metrics/export/internaldefs"
)

// Instrument names. Individual engine counters are told apart by the
// "event" attribute and latency series by "histogram" and "le".
const (
	EventsName       = "stackauth.events"
	LatencyName      = "stackauth.latency.bucket"
	LatencyCountName = "stackauth.latency.count"
	AuditDroppedName = "stackauth.audit.dropped"
)

// Attribute keys.
const (
	EventKey     = attribute.Key("event")
	HistogramKey = attribute.Key("histogram")
	BoundKey     = attribute.Key("le")
)

var (
	ErrNilMeter  = errors.New("otel exporter: nil meter")
	ErrNilSource = errors.New("otel exporter: nil metrics source")
)

// Source is what the exporter reads on each collection. *stackauth.Engine
// satisfies it.
type Source interface {
	MetricsSnapshot() stackauth.MetricsSnapshot
	AuditDropped() uint64
}

type eventSeries struct {
	id    stackauth.MetricID
	attrs metric.MeasurementOption
}

type latencySeries struct {
	id     stackauth.MetricID
	total  metric.MeasurementOption
	bounds [8]metric.MeasurementOption
}

// Exporter publishes engine counters through a Meter.
type Exporter struct {
	source  Source
	events  metric.Int64ObservableCounter
	latency metric.Int64ObservableGauge
	count   metric.Int64ObservableCounter
	dropped metric.Int64ObservableCounter

	eventSeries   []eventSeries
	latencySeries []latencySeries

	registration metric.Registration
}

// NewExporter registers the stackauth instruments on meter, reading from
// engine.
func NewExporter(meter metric.Meter, engine *stackauth.Engine) (*Exporter, error) {
	if engine == nil {
		return nil, ErrNilSource
	}
	return NewExporterFromSource(meter, engine)
}

// NewExporterFromSource is NewExporter for any Source.
func NewExporterFromSource(meter metric.Meter, source Source) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{source: source}
	var err error
	if e.events, err = meter.Int64ObservableCounter(EventsName,
		metric.WithDescription("Authentication events by outcome."),
		metric.WithUnit("{event}"),
	); err != nil {
		return nil, fmt.Errorf("otel exporter: %s: %w", EventsName, err)
	}
	if e.latency, err = meter.Int64ObservableGauge(LatencyName,
		metric.WithDescription("Cumulative latency samples at or below the le bound, in seconds."),
		metric.WithUnit("{sample}"),
	); err != nil {
		return nil, fmt.Errorf("otel exporter: %s: %w", LatencyName, err)
	}
	if e.count, err = meter.Int64ObservableCounter(LatencyCountName,
		metric.WithDescription("Latency samples recorded."),
		metric.WithUnit("{sample}"),
	); err != nil {
		return nil, fmt.Errorf("otel exporter: %s: %w", LatencyCountName, err)
	}
	if e.dropped, err = meter.Int64ObservableCounter(AuditDroppedName,
		metric.WithDescription(internaldefs.AuditDroppedHelp),
		metric.WithUnit("{event}"),
	); err != nil {
		return nil, fmt.Errorf("otel exporter: %s: %w", AuditDroppedName, err)
	}

	for _, def := range internaldefs.CounterDefs {
		e.eventSeries = append(e.eventSeries, eventSeries{
			id:    def.ID,
			attrs: metric.WithAttributes(EventKey.String(EventName(def.Name))),
		})
	}
	for _, def := range internaldefs.HistogramDefs {
		name := HistogramName(def.Name)
		s := latencySeries{id: def.ID, total: metric.WithAttributes(HistogramKey.String(name))}
		for i := range s.bounds {
			s.bounds[i] = metric.WithAttributes(HistogramKey.String(name), BoundKey.String(BoundLabel(i)))
		}
		e.latencySeries = append(e.latencySeries, s)
	}

	e.registration, err = meter.RegisterCallback(e.observe, e.events, e.latency, e.count, e.dropped)
	if err != nil {
		return nil, fmt.Errorf("otel exporter: register callback: %w", err)
	}
	return e, nil
}

// observe takes one snapshot per collection so every series agrees.
func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	snap := e.source.MetricsSnapshot()
	for _, s := range e.eventSeries {
		o.ObserveInt64(e.events, int64(snap.Counters[s.id]), s.attrs)
	}
	for _, s := range e.latencySeries {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snap.Histograms[s.id]))
		for i, n := range cumulative {
			o.ObserveInt64(e.latency, int64(n), s.bounds[i])
		}
		o.ObserveInt64(e.count, int64(cumulative[len(cumulative)-1]), s.total)
	}
	o.ObserveInt64(e.dropped, int64(e.source.AuditDropped()))
	return nil
}

// Close stops collection. The instruments stay registered on the meter.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}

// EventName strips the namespace and unit from a counter name, so
// "stackauth_login_success_total" becomes "login_success".
func EventName(counter string) string {
	return strings.TrimSuffix(strings.TrimPrefix(counter, "stackauth_"), "_total")
}

// HistogramName is EventName for latency histograms.
func HistogramName(histogram string) string {
	return strings.TrimSuffix(strings.TrimPrefix(histogram, "stackauth_"), "_seconds")
}

// BoundLabel renders the upper bound of bucket i, "+Inf" for the last.
func BoundLabel(i int) string {
	if i >= len(internaldefs.HistogramBounds) {
		return "+Inf"
	}
	return strconv.FormatFloat(internaldefs.HistogramBounds[i], 'f', -1, 64)
}

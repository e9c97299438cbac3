package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrEthical07/stackauth"
	"github.com/MrEthical07/stackauth/config"
	otelexport "github.com/MrEthical07/stackauth/metrics/export/otel"
	promexport "github.com/MrEthical07/stackauth/metrics/export/prometheus"
)

const meterName = "github.com/MrEthical07/stackauth/cmd/stackauthd"

// exportMetrics connects the engine counters to the configured exporter.
// Prometheus yields a scrape handler; otlp registers instruments on meters
// and yields no handler. stop unregisters whatever was set up.
func exportMetrics(engine *stackauth.Engine, exporter string, meters metric.MeterProvider) (http.Handler, func(), error) {
	switch exporter {
	case config.ExporterPrometheus:
		exp := promexport.NewExporter(engine)
		exp.Registry().MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		return exp.Handler(), func() {}, nil
	case config.ExporterOTLP:
		if meters == nil {
			return nil, nil, oops.Code("METRICS_EXPORT_FAILED").Errorf("otlp exporter needs a meter provider")
		}
		exp, err := otelexport.NewExporter(meters.Meter(meterName), engine)
		if err != nil {
			return nil, nil, oops.Code("METRICS_EXPORT_FAILED").Wrap(err)
		}
		return nil, func() { _ = exp.Close() }, nil
	default:
		return nil, nil, oops.Code("METRICS_EXPORT_FAILED").Errorf("unknown metrics exporter %q", exporter)
	}
}

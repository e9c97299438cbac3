package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/MrEthical07/stackauth"
	"github.com/MrEthical07/stackauth/metrics/export/internaldefs"
)

type fakeSource struct {
	snapshot stackauth.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() stackauth.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                       { return f.dropped }

func populated() fakeSource {
	return fakeSource{
		snapshot: stackauth.MetricsSnapshot{
			Counters: map[stackauth.MetricID]uint64{
				stackauth.MetricLoginSuccess: 7,
			},
			Histograms: map[stackauth.MetricID][]uint64{
				stackauth.MetricResolveLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	}
}

func TestCollectNothingWhenMetricsDisabled(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: stackauth.MetricsSnapshot{
			Counters:   map[stackauth.MetricID]uint64{},
			Histograms: map[stackauth.MetricID][]uint64{},
		},
	})

	if n := testutil.CollectAndCount(exp); n != 0 {
		t.Fatalf("expected no metrics, got %d", n)
	}
}

func TestCollectEveryDefinition(t *testing.T) {
	exp := NewExporterFromSource(populated())

	want := len(internaldefs.CounterDefs) + len(internaldefs.HistogramDefs) + 1
	if n := testutil.CollectAndCount(exp); n != want {
		t.Fatalf("expected %d metrics, got %d", want, n)
	}
}

func TestCollectCounterValues(t *testing.T) {
	exp := NewExporterFromSource(populated())

	expected := `
# HELP stackauth_login_success_total Successful logins.
# TYPE stackauth_login_success_total counter
stackauth_login_success_total 7
# HELP stackauth_audit_dropped_total Audit events dropped because the dispatcher buffer was full.
# TYPE stackauth_audit_dropped_total counter
stackauth_audit_dropped_total 2
`
	if err := testutil.CollectAndCompare(exp, strings.NewReader(expected),
		"stackauth_login_success_total", "stackauth_audit_dropped_total"); err != nil {
		t.Fatalf("unexpected collection: %v", err)
	}
}

func TestCollectCumulativeHistogram(t *testing.T) {
	exp := NewExporterFromSource(populated())

	expected := `
# HELP stackauth_resolve_latency_seconds Latency of access token resolution.
# TYPE stackauth_resolve_latency_seconds histogram
stackauth_resolve_latency_seconds_bucket{le="0.005"} 1
stackauth_resolve_latency_seconds_bucket{le="0.01"} 3
stackauth_resolve_latency_seconds_bucket{le="0.025"} 6
stackauth_resolve_latency_seconds_bucket{le="0.05"} 10
stackauth_resolve_latency_seconds_bucket{le="0.1"} 15
stackauth_resolve_latency_seconds_bucket{le="0.25"} 21
stackauth_resolve_latency_seconds_bucket{le="0.5"} 28
stackauth_resolve_latency_seconds_bucket{le="+Inf"} 36
stackauth_resolve_latency_seconds_sum 0
stackauth_resolve_latency_seconds_count 36
`
	if err := testutil.CollectAndCompare(exp, strings.NewReader(expected), "stackauth_resolve_latency_seconds"); err != nil {
		t.Fatalf("unexpected histogram: %v", err)
	}
}

func TestHandlerServesPrivateRegistry(t *testing.T) {
	exp := NewExporterFromSource(populated())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "stackauth_login_success_total 7") {
		t.Fatalf("expected login counter in output, got:\n%s", body)
	}
	if strings.Contains(string(body), "go_goroutines") {
		t.Fatal("runtime collectors must not be registered implicitly")
	}
}

func TestExporterReadsLiveEngine(t *testing.T) {
	m := stackauth.NewMetrics(stackauth.MetricsConfig{Enabled: true})
	m.Inc(stackauth.MetricLogoutAll)
	m.Inc(stackauth.MetricLogoutAll)

	exp := NewExporterFromSource(metricsOnly{m})
	expected := `
# HELP stackauth_logout_all_total Logouts from every session.
# TYPE stackauth_logout_all_total counter
stackauth_logout_all_total 2
`
	if err := testutil.CollectAndCompare(exp, strings.NewReader(expected), "stackauth_logout_all_total"); err != nil {
		t.Fatalf("unexpected collection: %v", err)
	}
}

type metricsOnly struct{ m *stackauth.Metrics }

func (s metricsOnly) MetricsSnapshot() stackauth.MetricsSnapshot { return s.m.Snapshot() }
func (s metricsOnly) AuditDropped() uint64                       { return 0 }

func BenchmarkCollect(b *testing.B) {
	exp := NewExporterFromSource(populated())
	b.ReportAllocs()
	for b.Loop() {
		_ = testutil.CollectAndCount(exp)
	}
}

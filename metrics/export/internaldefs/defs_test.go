package internaldefs

import (
	"strings"
	"testing"

	"github.com/MrEthical07/stackauth"
)

func TestEveryMetricHasExactlyOneDefinition(t *testing.T) {
	seen := make(map[stackauth.MetricID]string, stackauth.MetricIDCount)
	names := make(map[string]bool, stackauth.MetricIDCount)

	for _, def := range CounterDefs {
		if prev, dup := seen[def.ID]; dup {
			t.Fatalf("metric %d defined twice: %s and %s", def.ID, prev, def.Name)
		}
		seen[def.ID] = def.Name
		if !strings.HasPrefix(def.Name, "stackauth_") || !strings.HasSuffix(def.Name, "_total") {
			t.Fatalf("counter %q must be stackauth_*_total", def.Name)
		}
		names[def.Name] = true
	}
	for _, def := range HistogramDefs {
		if _, dup := seen[def.ID]; dup {
			t.Fatalf("histogram %s reuses a counter id", def.Name)
		}
		seen[def.ID] = def.Name
		names[def.Name] = true
	}

	if len(seen) != stackauth.MetricIDCount {
		t.Fatalf("expected %d definitions, got %d", stackauth.MetricIDCount, len(seen))
	}
	if len(names) != len(seen) {
		t.Fatal("metric names must be unique")
	}
	if names[AuditDroppedName] {
		t.Fatal("audit dropped counter collides with an engine metric")
	}
}

func TestBucketLayout(t *testing.T) {
	if len(HistogramBounds)+1 != len(NormalizeBuckets(nil)) {
		t.Fatalf("%d bounds do not fill the bucket array", len(HistogramBounds))
	}
	for i := 1; i < len(HistogramBounds); i++ {
		if HistogramBounds[i] <= HistogramBounds[i-1] {
			t.Fatalf("bounds not increasing at %d", i)
		}
	}
}

func TestCumulativeBuckets(t *testing.T) {
	got := CumulativeBuckets(NormalizeBuckets([]uint64{1, 2, 3}))
	want := [8]uint64{1, 3, 6, 6, 6, 6, 6, 6}
	if got != want {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

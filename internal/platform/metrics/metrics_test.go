package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterIsIdempotent(t *testing.T) {
	Register()
	Register()
}

func TestCountersMove(t *testing.T) {
	before := testutil.ToFloat64(IngestDeliveries.WithLabelValues("stored"))
	IngestDeliveries.WithLabelValues("stored").Inc()
	if got := testutil.ToFloat64(IngestDeliveries.WithLabelValues("stored")); got != before+1 {
		t.Errorf("stored = %v, want %v", got, before+1)
	}
}

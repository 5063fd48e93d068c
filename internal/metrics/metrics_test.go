package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterIsIdempotent(t *testing.T) {
	Register()
	Register() // second call must not panic
}

func TestQueuePendingGauge(t *testing.T) {
	Register()

	SetQueuePending(7)
	if got := testutil.ToFloat64(queuePending); got != 7 {
		t.Errorf("queue_pending = %v, want 7", got)
	}

	SetQueuePending(0)
	if got := testutil.ToFloat64(queuePending); got != 0 {
		t.Errorf("queue_pending = %v, want 0", got)
	}
}

func TestCounters(t *testing.T) {
	Register()

	before := testutil.ToFloat64(syncedItems.WithLabelValues("ADD_LOG"))
	IncSynced("ADD_LOG")
	IncSynced("ADD_LOG")
	after := testutil.ToFloat64(syncedItems.WithLabelValues("ADD_LOG"))
	if after-before != 2 {
		t.Errorf("synced_items_total delta = %v, want 2", after-before)
	}

	before = testutil.ToFloat64(captureFallbacks.WithLabelValues("UPLOAD_IMAGE"))
	IncCaptureFallback("UPLOAD_IMAGE")
	after = testutil.ToFloat64(captureFallbacks.WithLabelValues("UPLOAD_IMAGE"))
	if after-before != 1 {
		t.Errorf("capture_fallback_total delta = %v, want 1", after-before)
	}

	before = testutil.ToFloat64(drainFailures.WithLabelValues("connectivity"))
	IncDrainFailure("connectivity")
	after = testutil.ToFloat64(drainFailures.WithLabelValues("connectivity"))
	if after-before != 1 {
		t.Errorf("drain_failures_total delta = %v, want 1", after-before)
	}
}

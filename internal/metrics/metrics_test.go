package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveSyncSetsLastSuccess(t *testing.T) {
	SyncLastSuccess.Set(0)
	ObserveSync(2*time.Second, false)
	if got := testutil.ToFloat64(SyncLastSuccess); got != 0 {
		t.Fatalf("failed run must not update last success, got %v", got)
	}

	ObserveSync(2*time.Second, true)
	if got := testutil.ToFloat64(SyncLastSuccess); got <= 0 {
		t.Fatalf("successful run should set last success, got %v", got)
	}
}

func TestCountersByLabel(t *testing.T) {
	before := testutil.ToFloat64(SyncCards.WithLabelValues("updated"))
	SyncCards.WithLabelValues("updated").Inc()
	if got := testutil.ToFloat64(SyncCards.WithLabelValues("updated")); got != before+1 {
		t.Fatalf("expected %v, got %v", before+1, got)
	}
}

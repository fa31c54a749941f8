package observability

import (
	"testing"
	"time"

	"github.com/danmuck/canview/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordFrameCountsByOutcome(t *testing.T) {
	testlog.Start(t)
	before := testutil.ToFloat64(readerFrames.WithLabelValues(OutcomeAccepted))
	RecordFrame(OutcomeAccepted)
	RecordFrame(OutcomeAccepted)
	after := testutil.ToFloat64(readerFrames.WithLabelValues(OutcomeAccepted))
	if after-before != 2 {
		t.Fatalf("unexpected accepted delta: %v", after-before)
	}
}

func TestRecordSnapshotSetsEntries(t *testing.T) {
	testlog.Start(t)
	RecordSnapshot(7, time.Millisecond)
	if got := testutil.ToFloat64(snapshotEntries); got != 7 {
		t.Fatalf("unexpected snapshot entries gauge: %v", got)
	}
}

func TestRegisterMetricsIsIdempotent(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()
}

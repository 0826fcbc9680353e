package metrics

import (
	"math"
	"testing"
	"time"
)

func TestMetricsExistence(t *testing.T) {
	// Verify our exported metrics functions exist and don't panic
	RecordLoad(1024*1024, 250*time.Millisecond)
	RecordInference(10, 100*time.Millisecond)
	RecordForwardPass("direct", 5*time.Millisecond)
	// Functions exist and work - no assertion needed
}

func TestRecordPlacement(t *testing.T) {
	RecordPlacement("sharded", 0, 4096)
	RecordPlacement("sharded", 1, 4096)
	RecordPlacement("replicated", 0, 128)

	// Counters and gauges should accumulate - just verify no panic
}

func TestRecordLogits(t *testing.T) {
	RecordLogits([]float32{-1.5, 0.0, 3.25, 2.0})
	RecordLogits(nil)
	RecordLogits([]float32{float32(math.NaN()), 1.0})
}

func TestRecordInferenceMultiple(t *testing.T) {
	RecordInference(5, 50*time.Millisecond)
	RecordInference(10, 100*time.Millisecond)
	RecordInference(3, 30*time.Millisecond)
}

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckpointLoadDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "checkpoint_load_duration_seconds",
		Help: "Duration of checkpoint load and shard placement",
	})

	CheckpointBytesLoaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkpoint_bytes_loaded_total",
		Help: "Total bytes dequantized from checkpoints",
	})

	ShardBytesPerDevice = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "shard_bytes_per_device",
		Help: "Parameter bytes resident on each mesh device",
	}, []string{"device"})

	ShardedTensors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sharded_tensors_total",
		Help: "Tensors placed on the mesh, by placement kind",
	}, []string{"placement"})

	InferenceTokensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inference_tokens_total",
		Help: "The total number of tokens generated",
	})

	InferenceDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "inference_duration_seconds",
		Help: "Duration of per-token inference steps",
	})

	ForwardPassDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "forward_pass_duration_seconds",
		Help:    "Histogram of full forward pass times",
		Buckets: prometheus.DefBuckets,
	}, []string{"path"})

	ContextLengthHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "context_length_tokens",
		Help:    "Distribution of context lengths processed",
		Buckets: []float64{16, 64, 256, 1024, 2048, 4096, 8192},
	})

	LogitMaxValue = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "logit_max_value",
		Help:    "Maximum logit value observed",
		Buckets: []float64{-100, -50, -20, -10, -5, 0, 5, 10, 20, 50, 100, 500},
	})

	LogitNaNCount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logit_nan_count_total",
		Help: "Total count of NaN values in logits",
	})

	ChatRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_requests_total",
		Help: "Chat invocations, by outcome",
	}, []string{"status"})
)

// RecordLoad records a finished checkpoint load.
func RecordLoad(bytes int64, duration time.Duration) {
	CheckpointLoadDuration.Observe(duration.Seconds())
	CheckpointBytesLoaded.Add(float64(bytes))
}

// RecordPlacement records one tensor placed on the mesh. Replicated tensors
// report their full size against every device.
func RecordPlacement(placement string, device int, bytes int) {
	ShardedTensors.WithLabelValues(placement).Inc()
	ShardBytesPerDevice.WithLabelValues(strconv.Itoa(device)).Add(float64(bytes))
}

// RecordInference records generated tokens and their latency.
func RecordInference(tokens int, duration time.Duration) {
	InferenceTokensTotal.Add(float64(tokens))
	InferenceDuration.Observe(duration.Seconds())
}

// RecordForwardPass records one forward pass. path is "sampler" or "direct".
func RecordForwardPass(path string, duration time.Duration) {
	ForwardPassDuration.WithLabelValues(path).Observe(duration.Seconds())
}

// RecordLogits records summary stats of a logits vector.
func RecordLogits(logits []float32) {
	if len(logits) == 0 {
		return
	}
	max := logits[0]
	nans := 0
	for _, v := range logits {
		if v != v {
			nans++
			continue
		}
		if v > max {
			max = v
		}
	}
	LogitMaxValue.Observe(float64(max))
	if nans > 0 {
		LogitNaNCount.Add(float64(nans))
	}
}

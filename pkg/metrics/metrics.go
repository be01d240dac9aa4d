package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Shard metrics
	ShardsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cascade_shards_total",
			Help: "Total number of shards hosted by this process",
		},
	)

	CurrentVersion = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cascade_shard_current_version",
			Help: "Highest assigned version per shard",
		},
		[]string{"shard"},
	)

	StableVersion = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cascade_shard_stable_version",
			Help: "Latest version known to be ordered and agreed upon by a quorum, per shard",
		},
		[]string{"shard"},
	)

	PersistedVersion = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cascade_shard_persisted_version",
			Help: "Latest version durably fsynced to the delta log, per shard",
		},
		[]string{"shard"},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cascade_raft_is_leader",
			Help: "Whether this node is the Raft leader for the shard (1 = leader, 0 = follower)",
		},
		[]string{"shard"},
	)

	RaftAppliedIndex = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cascade_raft_applied_index",
			Help: "Last applied Raft log index, per shard",
		},
		[]string{"shard"},
	)

	RaftApplyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cascade_raft_apply_duration_seconds",
			Help:    "Time taken for ordered delivery of a command to reach FSM.Apply",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"shard"},
	)

	// Store operation metrics
	PutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_puts_total",
			Help: "Total number of put operations by shard and outcome",
		},
		[]string{"shard", "outcome"},
	)

	RemovesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_removes_total",
			Help: "Total number of remove operations by shard",
		},
		[]string{"shard"},
	)

	GetsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_gets_total",
			Help: "Total number of get operations by shard and read kind (current, version, time)",
		},
		[]string{"shard", "kind"},
	)

	PutDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cascade_put_duration_seconds",
			Help:    "Put latency observed in the shard's Put, by shard",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"shard"},
	)

	ReconstructDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cascade_reconstruct_duration_seconds",
			Help:    "Time to fold deltas into a transient snapshot for a historical read",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"shard"},
	)

	// Signed-chain metrics
	SignaturesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_signatures_total",
			Help: "Total number of signature log entries appended, by shard",
		},
		[]string{"shard"},
	)

	// Pool directory metrics
	ObjectPoolsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cascade_object_pools_total",
			Help: "Total number of registered (non-deleted) object pools",
		},
	)

	RouterResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_router_resolutions_total",
			Help: "Total number of key-to-shard resolutions by policy and outcome",
		},
		[]string{"policy", "outcome"},
	)

	// OCDPO dispatch metrics
	OCDPOQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cascade_ocdpo_queue_depth",
			Help: "Pending dispatch queue depth, by worker affinity class",
		},
		[]string{"class"},
	)

	OCDPODispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_ocdpo_dispatched_total",
			Help: "Total number of observer invocations by pool and outcome",
		},
		[]string{"pool", "outcome"},
	)

	OCDPODispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cascade_ocdpo_dispatch_duration_seconds",
			Help:    "Observer invocation duration, by pool",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"pool"},
	)

	// RPC metrics
	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_rpc_requests_total",
			Help: "Total number of RPC requests by method and status",
		},
		[]string{"method", "status"},
	)

	RPCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cascade_rpc_request_duration_seconds",
			Help:    "RPC request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(ShardsTotal)
	prometheus.MustRegister(CurrentVersion)
	prometheus.MustRegister(StableVersion)
	prometheus.MustRegister(PersistedVersion)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(RaftApplyDuration)
	prometheus.MustRegister(PutsTotal)
	prometheus.MustRegister(RemovesTotal)
	prometheus.MustRegister(GetsTotal)
	prometheus.MustRegister(PutDuration)
	prometheus.MustRegister(ReconstructDuration)
	prometheus.MustRegister(SignaturesTotal)
	prometheus.MustRegister(ObjectPoolsTotal)
	prometheus.MustRegister(RouterResolutionsTotal)
	prometheus.MustRegister(OCDPOQueueDepth)
	prometheus.MustRegister(OCDPODispatchedTotal)
	prometheus.MustRegister(OCDPODispatchDuration)
	prometheus.MustRegister(RPCRequestsTotal)
	prometheus.MustRegister(RPCRequestDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

/*
Package metrics provides Prometheus metrics collection and exposition for
Cascade.

Metrics are grouped by the component that owns them: store (puts, gets,
current/stable/persisted version, raft leadership and applied index),
signed-chain (signatures appended), pool directory (pool count, router
resolutions), OCDPO dispatch (queue depth, dispatched total, dispatch
duration), and RPC (requests total, request duration). All of them are
plain github.com/prometheus/client_golang Gauge/Counter/HistogramVec
values, registered at package init and exposed at /metrics via Handler().

# Usage

	import "github.com/cascadedb/cascade/pkg/metrics"

	metrics.PutsTotal.WithLabelValues("shard-0").Inc()

	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDurationVec(metrics.PutDuration, "shard-0")

	http.Handle("/metrics", metrics.Handler())

# Collector

Collector (collector.go) periodically samples every locally-hosted
*store.Shard registered with it via AddShard/RemoveShard, publishing
current and persisted version, raft leadership, and raft applied index
as gauges; each shard publishes its own stable version when it advances.
There is no central manager object to own this loop against, so the node
registers each shard as it comes up.

# Health

health.go tracks named component health (RegisterComponent/UpdateComponent)
and exposes /healthz, /readyz, and /livez handlers. GetReadiness treats
"raft", "store", and "rpc" as the critical components a node must report
healthy before it is considered ready to serve traffic.
*/
package metrics

// Package metrics registers the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveReplicas = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "editor",
		Name:      "active_replicas",
		Help:      "Number of in-memory document replicas.",
	})

	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "editor",
		Name:      "connected_clients",
		Help:      "Number of live WebSocket sessions.",
	})

	UpdatesAppended = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "editor",
		Name:      "updates_appended_total",
		Help:      "CRDT updates appended to the log.",
	})

	UpdateBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "editor",
		Name:      "update_bytes_total",
		Help:      "Bytes of CRDT updates appended to the log.",
	})

	CompactionRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "editor",
		Name:      "compaction_runs_total",
		Help:      "Snapshot compaction attempts by result.",
	}, []string{"result"})

	PendingSnapshots = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "editor",
		Name:      "pending_snapshots",
		Help:      "Documents over the snapshot threshold at the last worker tick.",
	})

	DroppedClients = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "editor",
		Name:      "dropped_clients_total",
		Help:      "Sessions dropped for outbound backpressure.",
	})
)

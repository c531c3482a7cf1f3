package maintenance

import "github.com/prometheus/client_golang/prometheus"

var (
	snapshotRefreshRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datapilot_snapshot_refresh_runs_total",
			Help: "Total number of schema snapshot refresh runs by status.",
		},
		[]string{"status"},
	)
	snapshotsRefreshedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "datapilot_snapshots_refreshed_total",
			Help: "Total number of schema snapshots rewritten by refresh runs.",
		},
	)
	retentionRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datapilot_retention_runs_total",
			Help: "Total number of conversation retention runs by status.",
		},
		[]string{"status"},
	)
	conversationsPurgedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "datapilot_conversations_purged_total",
			Help: "Total number of conversations deleted by retention runs.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		snapshotRefreshRunsTotal,
		snapshotsRefreshedTotal,
		retentionRunsTotal,
		conversationsPurgedTotal,
	)
}

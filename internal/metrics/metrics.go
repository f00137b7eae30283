package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for the check-in service
var (
	ScansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkin_scans_total",
			Help: "Total number of evaluated ticket scans by outcome",
		},
		[]string{"status"},
	)

	ScanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "checkin_scan_duration_seconds",
			Help:    "Duration of scan validation including the admission transaction",
			Buckets: prometheus.DefBuckets,
		},
	)

	AdmissionRacesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "checkin_admission_races_total",
			Help: "Conditional ticket updates that found the ticket already transitioned",
		},
	)

	IdempotentReplaysTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "checkin_idempotent_replays_total",
			Help: "Scan requests answered from the idempotency store",
		},
	)

	BroadcastFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "checkin_broadcast_failures_total",
			Help: "Occupancy updates that could not be computed or published",
		},
	)

	BroadcastDropsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "checkin_broadcast_drops_total",
			Help: "Occupancy updates skipped for a slow subscriber",
		},
	)

	AuditFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "checkin_audit_failures_total",
			Help: "Security audit entries that failed to publish",
		},
	)

	OccupancySubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "checkin_occupancy_subscribers",
			Help: "Open occupancy stream connections",
		},
	)
)

// Register registers all Prometheus metrics
func Register() {
	prometheus.MustRegister(
		ScansTotal,
		ScanDuration,
		AdmissionRacesTotal,
		IdempotentReplaysTotal,
		BroadcastFailuresTotal,
		BroadcastDropsTotal,
		AuditFailuresTotal,
		OccupancySubscribers,
	)
}

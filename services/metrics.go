package services

import "github.com/prometheus/client_golang/prometheus"

var (
	scoreboardBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scoreboard_batches_total",
			Help: "Scoreboard batches run, by mode and result",
		},
		[]string{"mode", "result"},
	)
	scoreboardBatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scoreboard_batch_duration_seconds",
			Help:    "Time spent applying a scoreboard batch",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)
	scoreboardReplayedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scoreboard_replayed_submissions_total",
			Help: "Submissions replayed into the scoreboard",
		},
	)
	scoreboardRevision = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scoreboard_revision",
			Help: "Revision of the last completed batch",
		},
	)
	scoreboardUsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scoreboard_users",
			Help: "Users known to the game",
		},
	)
	pushClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "push_clients",
			Help: "Connected websocket push clients",
		},
	)
)

// InitPrometheus registers the scoreboard metrics. Call this from main.go
func InitPrometheus() {
	prometheus.MustRegister(scoreboardBatchesTotal)
	prometheus.MustRegister(scoreboardBatchDuration)
	prometheus.MustRegister(scoreboardReplayedTotal)
	prometheus.MustRegister(scoreboardRevision)
	prometheus.MustRegister(scoreboardUsers)
	prometheus.MustRegister(pushClients)
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	gamesStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quiz_games_started_total",
			Help: "Total number of games started",
		},
	)

	gamesCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quiz_games_completed_total",
			Help: "Total number of games finalized",
		},
	)

	gamesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quiz_games_active",
			Help: "Number of games between start and finalization",
		},
	)

	answersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiz_answers_total",
			Help: "Answer submissions by outcome",
		},
		[]string{"outcome"},
	)

	broadcastFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiz_broadcast_failures_total",
			Help: "Room events that could not be published",
		},
		[]string{"event"},
	)

	resultPersistTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiz_result_persist_total",
			Help: "Game result persistence attempts by final status",
		},
		[]string{"status"},
	)

	resultPersistDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quiz_result_persist_duration_seconds",
			Help:    "Time spent persisting a game result, retries included",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		},
	)

	connectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quiz_ws_connections",
			Help: "Open websocket connections",
		},
	)

	graceTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quiz_disconnect_grace_timeouts_total",
			Help: "Participants whose reconnect grace period expired",
		},
	)
)

func GameStarted() {
	gamesStarted.Inc()
	gamesActive.Inc()
}

func GameCompleted() {
	gamesCompleted.Inc()
	gamesActive.Dec()
}

// RecordAnswer counts a submission: accepted, duplicate, stale, invalid or rejected.
func RecordAnswer(outcome string) {
	answersTotal.WithLabelValues(outcome).Inc()
}

func RecordBroadcastFailure(event string) {
	broadcastFailures.WithLabelValues(event).Inc()
}

func RecordPersist(success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	resultPersistTotal.WithLabelValues(status).Inc()
	resultPersistDuration.Observe(duration.Seconds())
}

func ConnectionOpened() { connectionsOpen.Inc() }
func ConnectionClosed() { connectionsOpen.Dec() }

func GraceTimeout() { graceTimeouts.Inc() }

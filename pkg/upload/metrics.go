package upload

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/relaycast/relaycast/pkg/debug"
)

var (
	sessionsStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaycast",
		Subsystem: "upload",
		Name:      "sessions_started_total",
		Help:      "Upload sessions initialized, by platform",
	}, []string{"platform"})

	sessionsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaycast",
		Subsystem: "upload",
		Name:      "sessions_completed_total",
		Help:      "Upload sessions finished successfully, by platform",
	}, []string{"platform"})

	sessionsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaycast",
		Subsystem: "upload",
		Name:      "sessions_failed_total",
		Help:      "Upload sessions that ended in failure, by platform",
	}, []string{"platform"})

	sessionsCancelled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaycast",
		Subsystem: "upload",
		Name:      "sessions_cancelled_total",
		Help:      "Upload sessions cancelled, by platform",
	}, []string{"platform"})

	chunksSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaycast",
		Subsystem: "upload",
		Name:      "chunks_sent_total",
		Help:      "Chunks acknowledged by the remote side, by platform",
	}, []string{"platform"})

	bytesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaycast",
		Subsystem: "upload",
		Name:      "bytes_sent_total",
		Help:      "Bytes acknowledged by the remote side, by platform",
	}, []string{"platform"})

	sessionsReaped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "relaycast",
		Subsystem: "upload",
		Name:      "sessions_reaped_total",
		Help:      "Stale sessions cancelled by the reaper",
	})
)

func init() {
	debug.Registry().MustRegister(
		sessionsStarted,
		sessionsCompleted,
		sessionsFailed,
		sessionsCancelled,
		chunksSent,
		bytesSent,
		sessionsReaped,
	)
}

package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	recommendationsServed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kindred_recommendations_served_total",
		Help: "Total recommendation requests that produced a ranking",
	})
	scoringDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "kindred_scoring_duration_seconds",
		Help:    "Time spent ranking a candidate pool",
		Buckets: prometheus.DefBuckets,
	})
	connectionTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kindred_connection_transitions_total",
		Help: "Connection state machine transitions by kind",
	}, []string{"transition"})
	dismissalsRecorded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kindred_dismissals_total",
		Help: "Total dismissal ledger inserts requested",
	})
)

func init() {
	prometheus.MustRegister(recommendationsServed, scoringDuration, connectionTransitions, dismissalsRecorded)
}

func metricsHandler() http.Handler {
	return promhttp.Handler()
}

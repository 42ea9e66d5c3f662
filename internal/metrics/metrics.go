package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "creditgate_settlements_total",
		Help: "Settlement attempts by terminal outcome",
	}, []string{"outcome"})

	ChallengesIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "creditgate_challenges_issued_total",
		Help: "402 payment challenges issued",
	})

	CreditsGrantedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "creditgate_credits_granted_total",
		Help: "Credits added to ledgers by settled payments",
	})

	ConfirmationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "creditgate_confirmation_duration_seconds",
		Help:    "Wall time spent confirming a transaction on chain",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})
)

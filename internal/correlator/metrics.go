package correlator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "asterisk_ledger",
		Name:      "events_total",
		Help:      "AMI events handled by the correlator, by event type.",
	}, []string{"event"})

	malformedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "asterisk_ledger",
		Name:      "malformed_events_total",
		Help:      "Events dropped for missing required headers.",
	}, []string{"event"})

	duplicatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "asterisk_ledger",
		Name:      "duplicate_events_total",
		Help:      "Channel-created events for keys already processed.",
	})

	transfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "asterisk_ledger",
		Name:      "transfers_total",
		Help:      "Transfer events observed.",
	}, []string{"type"})

	collaboratorErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "asterisk_ledger",
		Name:      "collaborator_errors_total",
		Help:      "Failed calls to the directory, ledger, announcer or publisher.",
	}, []string{"collaborator", "op"})

	activeCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "asterisk_ledger",
		Name:      "active_calls",
		Help:      "Sessions currently tracked.",
	})
)

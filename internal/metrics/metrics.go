// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionsOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "stage",
		Name:      "connections_open",
		Help:      "Live transport connections per endpoint.",
	}, []string{"endpoint"})

	ConnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stage",
		Name:      "connects_total",
		Help:      "Handshake outcomes per endpoint.",
	}, []string{"endpoint", "outcome"})

	MessagesValidated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stage",
		Name:      "messages_validated_total",
		Help:      "Inbound envelopes that passed the validation pipeline.",
	}, []string{"endpoint"})

	MessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stage",
		Name:      "messages_dropped_total",
		Help:      "Envelopes dropped, by reason.",
	}, []string{"endpoint", "reason"})

	MessagesDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stage",
		Name:      "messages_delivered_total",
		Help:      "Envelopes handed to a transport send.",
	}, []string{"endpoint"})
)

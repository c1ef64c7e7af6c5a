// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SynthStack Contributors

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Auth collectors are package-level so providers and the orchestrator can
// record without holding a Server.
var (
	operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authcore_operations_total",
			Help: "Total number of auth operations by operation, provider and outcome",
		},
		[]string{"operation", "provider", "outcome"},
	)
	lockoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "authcore_lockouts_total",
			Help: "Total number of accounts locked after repeated sign-in failures",
		},
	)
	remoteRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authcore_remote_requests_total",
			Help: "Total number of remote identity API requests by endpoint and status",
		},
		[]string{"endpoint", "status"},
	)
	mailDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authcore_mail_dropped_total",
			Help: "Total number of outbound emails dropped because the queue was full",
		},
		[]string{"kind"},
	)
)

// OutcomeSuccess is the outcome label of a successful operation. Failures use
// their error code.
const OutcomeSuccess = "success"

// RecordOperation counts one orchestrated auth operation.
func RecordOperation(operation, provider, outcome string) {
	operationsTotal.WithLabelValues(operation, provider, outcome).Inc()
}

// RecordLockout counts an account entering lockout.
func RecordLockout() {
	lockoutsTotal.Inc()
}

// RecordRemoteRequest counts one remote API attempt. status is the HTTP status
// code, or "error" for transport failures.
func RecordRemoteRequest(endpoint, status string) {
	remoteRequestsTotal.WithLabelValues(endpoint, status).Inc()
}

// RecordMailDropped counts an email the dispatcher could not enqueue.
func RecordMailDropped(kind string) {
	mailDroppedTotal.WithLabelValues(kind).Inc()
}

func registerAuthCollectors(reg prometheus.Registerer) {
	reg.MustRegister(operationsTotal, lockoutsTotal, remoteRequestsTotal, mailDroppedTotal)
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsTotal counts bridge jobs created, labelled by their initial state
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_jobs_total",
			Help: "Total number of bridge jobs created",
		},
		[]string{"state"},
	)

	// Transitions counts state machine transitions
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_transitions_total",
			Help: "Total number of bridge state transitions",
		},
		[]string{"from", "to"},
	)

	// Retries counts retries by the state they occurred in
	Retries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_retries_total",
			Help: "Total number of bridge step retries",
		},
		[]string{"state"},
	)

	// Failures counts jobs moved to FAILED, by the state they failed in
	Failures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_failures_total",
			Help: "Total number of failed bridge jobs",
		},
		[]string{"state"},
	)

	// PendingJobs tracks the number of non-terminal jobs
	PendingJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_pending_jobs",
			Help: "Number of bridge jobs not yet in a terminal state",
		},
	)

	// AmountUSDC tracks the USDC amount of each bridge job
	AmountUSDC = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bridge_amount_usdc",
			Help:    "USDC amount per bridge job",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000},
		},
	)

	// SafetyRejections counts rejections by safety check
	SafetyRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safety_rejections_total",
			Help: "Total number of actions rejected by safety checks",
		},
		[]string{"check"},
	)

	// KillSwitchActive is 1 while the kill switch is set
	KillSwitchActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kill_switch_active",
			Help: "Whether the global kill switch is active",
		},
	)

	// AttestationWait tracks how long attestations took to become available
	AttestationWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "attestation_wait_seconds",
			Help:    "Time from first poll to a complete attestation",
			Buckets: []float64{15, 30, 60, 120, 300, 600, 1200, 1800},
		},
	)

	// RPCErrors counts failed chain and oracle calls
	RPCErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpc_errors_total",
			Help: "Total number of failed RPC calls",
		},
		[]string{"chain", "op"},
	)
)

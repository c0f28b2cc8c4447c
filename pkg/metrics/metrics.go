package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// GatewayRequestsTotal counts outbound gateway calls by endpoint and HTTP status
	GatewayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payment",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Outbound payment gateway requests",
		},
		[]string{"endpoint", "status"},
	)

	GatewayRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "payment",
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Outbound payment gateway request latency, retries included",
			Buckets: []float64{
				0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.2,
				2, 3, 5, 8, 13, 20, 30,
			},
		},
		[]string{"endpoint"},
	)

	GatewayRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payment",
			Subsystem: "gateway",
			Name:      "rate_limit_retries_total",
			Help:      "Requests retried after a 429 response",
		},
		[]string{"endpoint"},
	)

	WebhooksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payment",
			Subsystem: "webhook",
			Name:      "received_total",
			Help:      "Inbound gateway callbacks by event type, signature validity and outcome",
		},
		[]string{"event_type", "hmac_valid", "outcome"},
	)

	CardTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payment",
			Subsystem: "card_token",
			Name:      "outcomes_total",
			Help:      "Tokenization callbacks by terminal status",
		},
		[]string{"status"},
	)

	ReconciliationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payment",
			Subsystem: "reconcile",
			Name:      "applied_total",
			Help:      "Status observations applied to the ledger by source and resulting status",
		},
		[]string{"source", "status"},
	)

	CheckoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payment",
			Subsystem: "checkout",
			Name:      "requests_total",
			Help:      "Checkout attempts by payment method and result",
		},
		[]string{"method", "result"},
	)
)

func init() {
	prometheus.MustRegister(
		GatewayRequestsTotal,
		GatewayRequestDuration,
		GatewayRetriesTotal,
		WebhooksTotal,
		CardTokensTotal,
		ReconciliationsTotal,
		CheckoutsTotal,
	)
}

// Helpers called from the gateway client and services

func ObserveGatewayRequest(endpoint, status string, seconds float64) {
	GatewayRequestsTotal.WithLabelValues(endpoint, status).Inc()
	GatewayRequestDuration.WithLabelValues(endpoint).Observe(seconds)
}

func IncGatewayRetry(endpoint string) {
	GatewayRetriesTotal.WithLabelValues(endpoint).Inc()
}

func IncWebhook(eventType string, hmacValid bool, outcome string) {
	valid := "false"
	if hmacValid {
		valid = "true"
	}
	WebhooksTotal.WithLabelValues(eventType, valid, outcome).Inc()
}

func IncCardToken(status string) {
	CardTokensTotal.WithLabelValues(status).Inc()
}

func IncReconciliation(source, status string) {
	ReconciliationsTotal.WithLabelValues(source, status).Inc()
}

func IncCheckout(method, result string) {
	CheckoutsTotal.WithLabelValues(method, result).Inc()
}

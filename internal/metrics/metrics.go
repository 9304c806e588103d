package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"handler", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"handler", "method"},
	)

	OrdersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printshop_orders_total",
			Help: "Orders accepted at checkout",
		},
		[]string{"payment_type"},
	)

	InvoiceIssuance = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printshop_invoice_issuance_total",
			Help: "Invoice auto-issuance attempts by outcome",
		},
		[]string{"outcome"},
	)

	LedgerWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printshop_ledger_writes_total",
			Help: "Order ledger append attempts by outcome",
		},
		[]string{"outcome"},
	)

	WorkflowTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printshop_workflow_transitions_total",
			Help: "Shipment workflow transitions by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	Notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printshop_notifications_total",
			Help: "Outbound notification attempts by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		OrdersPlaced,
		InvoiceIssuance,
		LedgerWrites,
		WorkflowTransitions,
		Notifications,
	)
}

package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics holds Prometheus metrics for workflow-level observability.
type BusinessMetrics struct {
	// Orders
	OrdersCreated   *prometheus.CounterVec
	OrderValue      *prometheus.HistogramVec
	OrderItemCount  *prometheus.HistogramVec
	ItemTransitions *prometheus.CounterVec

	// Bookings and quotes
	BookingsCreated    *prometheus.CounterVec
	BookingTransitions *prometheus.CounterVec
	QuotesDerived      *prometheus.CounterVec

	// Invoices and payments
	InvoicesCreated        *prometheus.CounterVec
	InvoicesFinalized      *prometheus.CounterVec
	PaymentSucceeded       *prometheus.CounterVec
	PaymentFailed          *prometheus.CounterVec
	ReconciliationFailures *prometheus.CounterVec

	// Refunds and payouts
	RefundsIssued    *prometheus.CounterVec
	RefundAmount     *prometheus.CounterVec
	TransfersCreated *prometheus.CounterVec
	TransferAmount   *prometheus.CounterVec

	// Shipping
	ShipmentsCreated *prometheus.CounterVec
	LabelsPurchased  *prometheus.CounterVec
	TrackingUpdates  *prometheus.CounterVec

	// Inventory
	InventoryAdjustments *prometheus.CounterVec

	// Currency
	RateFallbacks *prometheus.CounterVec

	// Webhooks
	WebhookReceived  *prometheus.CounterVec
	WebhookProcessed *prometheus.CounterVec
	WebhookFailed    *prometheus.CounterVec
	WebhookLatency   *prometheus.HistogramVec

	// Background jobs
	JobsEnqueued  *prometheus.CounterVec
	JobsFallback  *prometheus.CounterVec
	JobsProcessed *prometheus.CounterVec
	JobsFailed    *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec

	// Lifecycle event stream
	EventsPublished     *prometheus.CounterVec
	EventsPublishFailed *prometheus.CounterVec

	// Email delivery
	EmailSent   *prometheus.CounterVec
	EmailFailed *prometheus.CounterVec

	// External API performance
	ExternalAPILatency *prometheus.HistogramVec
}

func counter(namespace, subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func histogram(namespace, subsystem, name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		},
		labels,
	)
}

// NewBusinessMetrics creates and registers all business metrics
func NewBusinessMetrics(namespace string) *BusinessMetrics {
	if namespace == "" {
		namespace = "chandlery"
	}

	subsystem := "business"
	latencyBuckets := []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

	m := &BusinessMetrics{
		// =======================================================================
		// Orders
		// =======================================================================
		OrdersCreated: counter(namespace, subsystem, "orders_created_total",
			"Total orders created", "currency"),
		OrderValue: histogram(namespace, subsystem, "order_value_usd_cents",
			"Order total distribution in USD cents",
			[]float64{1000, 2500, 5000, 7500, 10000, 15000, 25000, 50000, 100000}),
		OrderItemCount: histogram(namespace, subsystem, "order_item_count",
			"Number of items per order", []float64{1, 2, 3, 5, 10, 15, 20}),
		ItemTransitions: counter(namespace, subsystem, "order_item_transitions_total",
			"Order item status transitions", "from", "to", "actor"),

		// =======================================================================
		// Bookings and Quotes
		// =======================================================================
		BookingsCreated: counter(namespace, subsystem, "bookings_created_total",
			"Total bookings requested", "requires_quote"),
		BookingTransitions: counter(namespace, subsystem, "booking_transitions_total",
			"Booking status transitions", "to", "actor"),
		QuotesDerived: counter(namespace, subsystem, "quote_status_total",
			"Quote status recomputations by resulting status", "status"),

		// =======================================================================
		// Invoices and Payments
		// =======================================================================
		InvoicesCreated: counter(namespace, subsystem, "invoices_created_total",
			"Total invoices created", "kind"),
		InvoicesFinalized: counter(namespace, subsystem, "invoices_finalized_total",
			"Total invoices finalized and sent", "kind"),
		PaymentSucceeded: counter(namespace, subsystem, "payment_succeeded_total",
			"Total invoice payments applied", "kind"),
		PaymentFailed: counter(namespace, subsystem, "payment_failed_total",
			"Total failed invoice payments", "kind"),
		ReconciliationFailures: counter(namespace, subsystem, "reconciliation_failures_total",
			"Payment events that could not be applied to the ledger", "event_type"),

		// =======================================================================
		// Refunds and Payouts
		// =======================================================================
		RefundsIssued: counter(namespace, subsystem, "refunds_issued_total",
			"Total refunds issued to customers", "initiator", "phase"),
		RefundAmount: counter(namespace, subsystem, "refund_amount_usd_cents",
			"Total refund amount in USD cents", "initiator"),
		TransfersCreated: counter(namespace, subsystem, "transfers_created_total",
			"Total payouts to business accounts", "reason"),
		TransferAmount: counter(namespace, subsystem, "transfer_amount_usd_cents",
			"Total payout amount in USD cents", "reason"),

		// =======================================================================
		// Shipping
		// =======================================================================
		ShipmentsCreated: counter(namespace, subsystem, "shipments_created_total",
			"Total shipments created", "mode"), // mode: carrier, manual
		LabelsPurchased: counter(namespace, subsystem, "labels_purchased_total",
			"Total shipping labels purchased", "carrier"),
		TrackingUpdates: counter(namespace, subsystem, "tracking_updates_total",
			"Carrier tracking callbacks by mapped status", "status"),

		// =======================================================================
		// Inventory
		// =======================================================================
		InventoryAdjustments: counter(namespace, subsystem, "inventory_adjustments_total",
			"Stock adjustments caused by item transitions", "direction"),

		// =======================================================================
		// Currency
		// =======================================================================
		RateFallbacks: counter(namespace, subsystem, "rate_fallbacks_total",
			"Conversions served from the static rate table", "currency"),

		// =======================================================================
		// Webhooks
		// =======================================================================
		WebhookReceived: counter(namespace, subsystem, "webhook_received_total",
			"Total webhooks received", "provider", "event_type"),
		WebhookProcessed: counter(namespace, subsystem, "webhook_processed_total",
			"Total webhooks successfully processed", "provider", "event_type"),
		WebhookFailed: counter(namespace, subsystem, "webhook_failed_total",
			"Total webhook processing failures", "provider", "event_type", "error_type"),
		WebhookLatency: histogram(namespace, subsystem, "webhook_processing_seconds",
			"Webhook processing duration", latencyBuckets, "provider", "event_type"),

		// =======================================================================
		// Background Jobs
		// =======================================================================
		JobsEnqueued: counter(namespace, subsystem, "jobs_enqueued_total",
			"Total background jobs published to the broker", "job_type"),
		JobsFallback: counter(namespace, subsystem, "jobs_fallback_total",
			"Jobs executed inline because the broker was unavailable", "job_type"),
		JobsProcessed: counter(namespace, subsystem, "jobs_processed_total",
			"Total background jobs processed", "job_type"),
		JobsFailed: counter(namespace, subsystem, "jobs_failed_total",
			"Total background job failures", "job_type", "error_type"),
		JobDuration: histogram(namespace, subsystem, "job_duration_seconds",
			"Background job processing duration", latencyBuckets, "job_type"),

		// =======================================================================
		// Lifecycle Events
		// =======================================================================
		EventsPublished: counter(namespace, subsystem, "events_published_total",
			"Lifecycle events written to the event stream", "event"),
		EventsPublishFailed: counter(namespace, subsystem, "events_publish_failed_total",
			"Lifecycle events that failed to publish", "event"),

		// =======================================================================
		// Email Delivery
		// =======================================================================
		EmailSent: counter(namespace, subsystem, "emails_sent_total",
			"Total emails sent by type", "email_type"),
		EmailFailed: counter(namespace, subsystem, "emails_failed_total",
			"Total email delivery failures", "email_type", "error_type"),

		// =======================================================================
		// External API Performance
		// =======================================================================
		ExternalAPILatency: histogram(namespace, subsystem, "external_api_duration_seconds",
			"Payment and carrier API call duration",
			[]float64{.1, .25, .5, 1, 2.5, 5, 10, 30}, "provider", "operation"),
	}

	return m
}

// Global instance for easy access from services and handlers
var Business *BusinessMetrics

// InitBusinessMetrics initializes the global business metrics instance
func InitBusinessMetrics(namespace string) *BusinessMetrics {
	Business = NewBusinessMetrics(namespace)
	return Business
}

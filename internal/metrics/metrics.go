// Package metrics exposes Prometheus counters for the payment core.
// All vars register on the default registry through promauto; /metrics
// serves them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Credit ledger ──────────────────────────────────────────────────────────

var LedgerOperations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "trafikskola",
	Subsystem: "ledger",
	Name:      "operations_total",
	Help:      "Credit ledger operations by reason and result.",
}, []string{"op", "result"})

// ─── Payment state machine ─────────────────────────────────────────────────

var PaymentDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "trafikskola",
	Subsystem: "payments",
	Name:      "decisions_total",
	Help:      "Payment decisions applied, by resource kind, decision and result.",
}, []string{"kind", "decision", "result"})

var TokenDecodes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "trafikskola",
	Subsystem: "payments",
	Name:      "action_token_decodes_total",
	Help:      "Action token decode attempts by result.",
}, []string{"result"})

// ─── Invoices ───────────────────────────────────────────────────────────────

var InvoicesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "trafikskola",
	Subsystem: "invoices",
	Name:      "created_total",
	Help:      "Invoice requests, split into newly created and already existing.",
}, []string{"outcome"})

// ─── Bulk cancellation ─────────────────────────────────────────────────────

var BookingsCancelled = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "trafikskola",
	Subsystem: "cancellation",
	Name:      "bookings_deleted_total",
	Help:      "Bookings deleted by bulk cancellation.",
})

var CreditsReimbursed = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "trafikskola",
	Subsystem: "cancellation",
	Name:      "credits_reimbursed_total",
	Help:      "Lesson credits given back by bulk cancellation.",
})

// ─── Notifications ─────────────────────────────────────────────────────────

var Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "trafikskola",
	Subsystem: "notify",
	Name:      "messages_total",
	Help:      "Notification deliveries by kind and result.",
}, []string{"kind", "result"})

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveLedger counts one ledger operation.
func ObserveLedger(op string, err error) {
	LedgerOperations.WithLabelValues(op, result(err)).Inc()
}

// ObserveDecision counts one applied payment decision.
func ObserveDecision(kind, decision string, err error) {
	PaymentDecisions.WithLabelValues(kind, decision, result(err)).Inc()
}

// ObserveTokenDecode counts one token decode.
func ObserveTokenDecode(err error) {
	TokenDecodes.WithLabelValues(result(err)).Inc()
}

// ObserveInvoice counts an invoice request.
func ObserveInvoice(created bool) {
	if created {
		InvoicesCreated.WithLabelValues("created").Inc()
		return
	}
	InvoicesCreated.WithLabelValues("existing").Inc()
}

// ObserveNotification counts one delivery attempt series.
func ObserveNotification(kind string, delivered bool) {
	if delivered {
		Notifications.WithLabelValues(kind, "ok").Inc()
		return
	}
	Notifications.WithLabelValues(kind, "error").Inc()
}

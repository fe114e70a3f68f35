package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/plushify/plushify/pkg/credit"
)

var GenerationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "plushify_generations_total",
	Help: "Generation jobs reaching a terminal state, by outcome.",
}, []string{"outcome"})

var LedgerEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "plushify_ledger_entries_total",
	Help: "Ledger operations attempted, by kind and status.",
}, []string{"kind", "status"})

var WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "plushify_webhook_events_total",
	Help: "Payment webhook deliveries, by disposition.",
}, []string{"result"})

// LedgerObserver implements credit.OperationLogger by counting operations.
type LedgerObserver struct{}

func (LedgerObserver) LogOperation(ctx context.Context, entry credit.OperationLog) {
	LedgerEntriesTotal.WithLabelValues(entry.Kind.String(), entry.Status).Inc()
}

// ObserveGenerationOutcome records a terminal generation outcome.
func ObserveGenerationOutcome(outcome string) {
	GenerationsTotal.WithLabelValues(outcome).Inc()
}

// ObserveWebhookEvent records a webhook delivery disposition.
func ObserveWebhookEvent(result string) {
	WebhookEventsTotal.WithLabelValues(result).Inc()
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BillingMetrics records plan change outcomes and provider latency.
type BillingMetrics struct {
	planChanges      *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	webhookEvents    *prometheus.CounterVec
}

// NewBillingMetrics registers billing metrics on the provided registerer.
func NewBillingMetrics(reg prometheus.Registerer) *BillingMetrics {
	if reg == nil {
		return &BillingMetrics{}
	}
	planChanges := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_plan_changes_total",
		Help: "Plan change requests by change type and outcome.",
	}, []string{"change_type", "outcome"})
	providerDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "billing_provider_call_seconds",
		Help:    "Latency of billing provider calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_webhook_events_total",
		Help: "Processed billing webhook events by type and outcome.",
	}, []string{"event_type", "outcome"})
	reg.MustRegister(planChanges, providerDuration, webhookEvents)
	return &BillingMetrics{
		planChanges:      planChanges,
		providerDuration: providerDuration,
		webhookEvents:    webhookEvents,
	}
}

// IncPlanChange increments the plan change counter for the given type and outcome.
func (b *BillingMetrics) IncPlanChange(changeType, outcome string) {
	if b == nil || b.planChanges == nil {
		return
	}
	b.planChanges.WithLabelValues(normalizeLabel(changeType), normalizeLabel(outcome)).Inc()
}

// ObserveProviderCall records the latency of a provider operation.
func (b *BillingMetrics) ObserveProviderCall(operation string, duration time.Duration) {
	if b == nil || b.providerDuration == nil {
		return
	}
	b.providerDuration.WithLabelValues(normalizeLabel(operation)).Observe(duration.Seconds())
}

// IncWebhookEvent increments the webhook event counter.
func (b *BillingMetrics) IncWebhookEvent(eventType, outcome string) {
	if b == nil || b.webhookEvents == nil {
		return
	}
	b.webhookEvents.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

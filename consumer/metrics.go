package consumer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Consumer counters. Registered once on the default registry; /metrics is
// exposed by the API server.
var (
	eventsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "expense_events_processed_total",
		Help: "Events successfully applied to the store.",
	})
	eventsDeadLettered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "expense_events_deadlettered_total",
		Help: "Events routed to the dead-letter sink, by reason.",
	}, []string{"reason"})
	duplicateEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "expense_duplicate_events_total",
		Help: "Redelivered events acknowledged without re-applying.",
	})
	versionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "expense_version_conflicts_total",
		Help: "Conditional writes lost to a concurrent writer and retried.",
	})
	unknownKindEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "expense_unknown_kind_events_total",
		Help: "Events with an unrecognized kind tag, acknowledged as no-ops.",
	})
	storeRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "expense_store_retries_total",
		Help: "Apply attempts retried after a transient store failure.",
	})
)

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all pipeline metrics
type Metrics struct {
	// Bridge metrics
	MessagesConsumed prometheus.Counter
	MessagesAcked    prometheus.Counter
	MessagesNacked   prometheus.Counter
	BrokerReconnects prometheus.Counter

	// Delivery metrics
	NotificationsSent       prometheus.Counter
	NotificationsRetried    prometheus.Counter
	NotificationsDeadLetter prometheus.Counter
	DeliveryLatency         prometheus.Histogram
	CircuitOpenRejections   prometheus.Counter

	// Side-call metrics
	StatusWrites     *prometheus.CounterVec
	DeadLetterWrites *prometheus.CounterVec
}

// NewMetrics creates and registers all pipeline metrics
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		MessagesConsumed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_consumed_total",
			Help:      "Total number of inbound queue messages consumed",
		}),
		MessagesAcked: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_acked_total",
			Help:      "Total number of inbound messages acknowledged after hand-off",
		}),
		MessagesNacked: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_nacked_total",
			Help:      "Total number of inbound messages negatively acknowledged",
		}),
		BrokerReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_reconnects_total",
			Help:      "Total number of broker reconnection attempts",
		}),
		NotificationsSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_sent_total",
			Help:      "Total number of notifications delivered successfully",
		}),
		NotificationsRetried: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_retried_total",
			Help:      "Total number of retry attempts scheduled",
		}),
		NotificationsDeadLetter: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dead_lettered_total",
			Help:      "Total number of notifications moved to the dead-letter queue",
		}),
		DeliveryLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_attempt_duration_seconds",
			Help:      "Time spent on a single delivery attempt",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		CircuitOpenRejections: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_open_rejections_total",
			Help:      "Total number of delivery attempts refused by the open circuit",
		}),
		StatusWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_writes_total",
			Help:      "Total number of status tracker writes",
		}, []string{"status", "result"}),
		DeadLetterWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dead_letter_writes_total",
			Help:      "Total number of dead-letter publishes",
		}, []string{"result"}),
	}
}

// New creates unregistered metrics, for tests.
func New(namespace string) *Metrics {
	return &Metrics{
		MessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_consumed_total",
			Help:      "Total number of inbound queue messages consumed",
		}),
		MessagesAcked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_acked_total",
			Help:      "Total number of inbound messages acknowledged after hand-off",
		}),
		MessagesNacked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_nacked_total",
			Help:      "Total number of inbound messages negatively acknowledged",
		}),
		BrokerReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_reconnects_total",
			Help:      "Total number of broker reconnection attempts",
		}),
		NotificationsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_sent_total",
			Help:      "Total number of notifications delivered successfully",
		}),
		NotificationsRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_retried_total",
			Help:      "Total number of retry attempts scheduled",
		}),
		NotificationsDeadLetter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dead_lettered_total",
			Help:      "Total number of notifications moved to the dead-letter queue",
		}),
		DeliveryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_attempt_duration_seconds",
			Help:      "Time spent on a single delivery attempt",
		}),
		CircuitOpenRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_open_rejections_total",
			Help:      "Total number of delivery attempts refused by the open circuit",
		}),
		StatusWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_writes_total",
			Help:      "Total number of status tracker writes",
		}, []string{"status", "result"}),
		DeadLetterWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dead_letter_writes_total",
			Help:      "Total number of dead-letter publishes",
		}, []string{"result"}),
	}
}

package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	MessagesAppended   *prometheus.CounterVec
	TokensDetected     *prometheus.CounterVec
	StatusTransitions  *prometheus.CounterVec
	OrderParseFailures prometheus.Counter
	Notifications      *prometheus.CounterVec
	StoreLatency       *prometheus.HistogramVec
	StoreErrors        *prometheus.CounterVec
	ConsoleClients     prometheus.Gauge
	WebhookMessages    *prometheus.CounterVec
	RetentionDeletes   prometheus.Counter
}

// NewMetrics registers the instruments with reg. Tests pass a fresh
// prometheus.NewRegistry(); the server passes prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		MessagesAppended: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_appended_total",
			Help:      "Messages appended to call logs by message type.",
		}, []string{"type"}),
		TokensDetected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_tokens_detected_total",
			Help:      "Control tokens found in appended messages.",
		}, []string{"token"}),
		StatusTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Session status changes by source and target status.",
		}, []string{"from", "to"}),
		OrderParseFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_parse_failures_total",
			Help:      "ORDER_CONFIRMED payloads that could not be parsed.",
		}),
		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Order notifications by channel and result.",
		}, []string{"channel", "result"}),
		StoreLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_mutation_duration_seconds",
			Help:      "Latency of call log mutations including lock wait.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"operation"}),
		StoreErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Failed call log mutations by operation and error code.",
		}, []string{"operation", "code"}),
		ConsoleClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "console_sse_clients",
			Help:      "Connected staff console event streams.",
		}),
		WebhookMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "whatsapp_webhook_messages_total",
			Help:      "Inbound WhatsApp messages by outcome.",
		}, []string{"outcome"}),
		RetentionDeletes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_deleted_total",
			Help:      "Call logs removed by the retention job.",
		}),
	}
}

func (m *Metrics) ObserveStore(operation string, d time.Duration) {
	m.StoreLatency.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *Metrics) ObserveNotification(channel string, ok bool) {
	result := "sent"
	if !ok {
		result = "failed"
	}
	m.Notifications.WithLabelValues(channel, result).Inc()
}

// Handler serves the instruments registered with gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

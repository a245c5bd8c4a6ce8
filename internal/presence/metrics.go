package presence

import "github.com/prometheus/client_golang/prometheus"

var (
	ConnectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connected_clients",
		Help: "Number of identities currently bound to a connection",
	})

	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_total",
		Help: "Total hub events processed by type",
	}, []string{"type"})

	RoutedMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_routed_messages_total",
		Help: "Routed message events by delivery result",
	}, []string{"result"})

	EventProcessingDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_event_processing_seconds",
		Help:    "Time to process each event type",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})
)

func init() {
	prometheus.MustRegister(ConnectedClients)
	prometheus.MustRegister(MessagesTotal)
	prometheus.MustRegister(RoutedMessages)
	prometheus.MustRegister(EventProcessingDuration)
}

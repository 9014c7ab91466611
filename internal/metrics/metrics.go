package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookpipe_deliveries_total",
			Help: "Delivery lifecycle counter by stage",
		},
		[]string{"stage"}, // enqueued|delivered|retried|failed
	)

	DeliveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hookpipe_delivery_duration_seconds",
			Help:    "Outbound webhook call duration",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		DeliveriesTotal,
		DeliveryDuration,
	)
}

package dali

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	ChannelsOpen     prometheus.Gauge
	ChannelListeners prometheus.Gauge
	Dispatches       *prometheus.CounterVec
	AuthFailures     *prometheus.CounterVec
	ResolverFetches  *prometheus.CounterVec
}

// registers the sdk metrics on `registerer`
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	metrics := &Metrics{
		ChannelsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dali_channels_open",
			Help: "Channels with an open transport.",
		}),
		ChannelListeners: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dali_channel_listeners",
			Help: "Listeners registered across all channels.",
		}),
		Dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dali_channel_dispatch_total",
			Help: "Push events dispatched to listeners.",
		}, []string{"namespace", "event"}),
		AuthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dali_channel_auth_failures_total",
			Help: "Channel authentications rejected by the server.",
		}, []string{"namespace"}),
		ResolverFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dali_resolver_fetches_total",
			Help: "Fetch-by-id calls issued to resolve references.",
		}, []string{"kind"}),
	}
	registerer.MustRegister(
		metrics.ChannelsOpen,
		metrics.ChannelListeners,
		metrics.Dispatches,
		metrics.AuthFailures,
		metrics.ResolverFetches,
	)
	return metrics
}

// metrics on a private registry
func NewDefaultMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

package relay

import (
	"github.com/peterouob/pionCall/pkg/signal"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

// Collector records relay activity.
type Collector interface {
	ClientConnected()
	ClientDisconnected()
	CallStarted(kind signal.MediaKind)
	CallEnded(reason signal.Type)
	MessageRouted(t signal.Type)
	MessageRejected(t signal.Type, code string)
}

type PrometheusCollector struct {
	gatherer prometheus.Gatherer

	activeClients prometheus.Gauge
	activeCalls   prometheus.Gauge
	callsStarted  *prometheus.CounterVec
	callsEnded    *prometheus.CounterVec
	routed        *prometheus.CounterVec
	rejected      *prometheus.CounterVec
}

// NewPrometheusCollector registers the relay metrics with reg. A nil reg
// gets a fresh registry.
func NewPrometheusCollector(reg *prometheus.Registry) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &PrometheusCollector{
		gatherer: reg,
		activeClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "callrelay_active_clients",
			Help: "Number of connected signaling clients",
		}),
		activeCalls: factory.NewGauge(prometheus.GaugeOpts{
			Name: "callrelay_active_calls",
			Help: "Number of calls currently tracked by the relay",
		}),
		callsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callrelay_calls_started_total",
			Help: "Calls the relay forwarded to a callee",
		}, []string{"media_kind"}),
		callsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callrelay_calls_ended_total",
			Help: "Calls removed from the relay",
		}, []string{"reason"}),
		routed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callrelay_messages_routed_total",
			Help: "Signals delivered to a recipient",
		}, []string{"type"}),
		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callrelay_messages_rejected_total",
			Help: "Signals answered with call-error",
		}, []string{"type", "code"}),
	}
}

func (c *PrometheusCollector) ClientConnected() { c.activeClients.Inc() }
func (c *PrometheusCollector) ClientDisconnected() { c.activeClients.Dec() }

func (c *PrometheusCollector) CallStarted(kind signal.MediaKind) {
	c.activeCalls.Inc()
	c.callsStarted.WithLabelValues(string(kind)).Inc()
}

func (c *PrometheusCollector) CallEnded(reason signal.Type) {
	c.activeCalls.Dec()
	c.callsEnded.WithLabelValues(string(reason)).Inc()
}

func (c *PrometheusCollector) MessageRouted(t signal.Type) {
	c.routed.WithLabelValues(string(t)).Inc()
}

func (c *PrometheusCollector) MessageRejected(t signal.Type, code string) {
	c.rejected.WithLabelValues(string(t), code).Inc()
}

func (c *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

type NopCollector struct{}

func (NopCollector) ClientConnected() {}
func (NopCollector) ClientDisconnected() {}
func (NopCollector) CallStarted(signal.MediaKind) {}
func (NopCollector) CallEnded(signal.Type) {}
func (NopCollector) MessageRouted(signal.Type) {}
func (NopCollector) MessageRejected(signal.Type, string) {}

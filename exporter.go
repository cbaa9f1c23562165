// Contains stuff related to exposing metrics to Prometheus

package main

import (
	"bytes"
	"log/slog"
	"net/http"
	"os"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// selfMetrics are the exporter's own operational metrics, kept on a
// registry separate from the one the sink fills with mapped metrics.
type selfMetrics struct {
	connectedClients   prometheus.Gauge
	totalConnections   prometheus.Counter
	uncleanDisconnects prometheus.Counter

	messagesReceived   prometheus.Counter
	unmatchedTopics    prometheus.Counter
	decodeFailures     prometheus.Counter
	extractionFailures prometheus.Counter
	sinkErrors         prometheus.Counter
}

func newSelfMetrics(reg *prometheus.Registry) *selfMetrics {
	m := &selfMetrics{
		connectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mqtt_connected_clients",
			Help: "Number of currently connected MQTT clients",
		}),
		totalConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mqtt_total_connections",
			Help: "Total number of MQTT connections that were established",
		}),
		uncleanDisconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mqtt_unclean_disconnects",
			Help: "Total number of disconnects with a network error",
		}),
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exporter_messages_received_total",
			Help: "Messages delivered to the exporter's subscriptions",
		}),
		unmatchedTopics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exporter_unmatched_topics_total",
			Help: "Messages whose topic matched no configured mapping",
		}),
		decodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exporter_decode_failures_total",
			Help: "Messages dropped because the payload was not valid UTF-8",
		}),
		extractionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exporter_extraction_failures_total",
			Help: "Events dropped for a mapping because value extraction failed",
		}),
		sinkErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exporter_sink_errors_total",
			Help: "Metric updates rejected by the sink",
		}),
	}
	reg.MustRegister(
		m.connectedClients,
		m.totalConnections,
		m.uncleanDisconnects,
		m.messagesReceived,
		m.unmatchedTopics,
		m.decodeFailures,
		m.extractionFailures,
		m.sinkErrors,
	)
	return m
}

// runMetricsServer serves the merged view of the sink registry and the
// self-metrics registry at /metrics.
func runMetricsServer(addr string, gatherer prometheus.Gatherer) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	slog.Info("starting prometheus exporter", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("metrics server failed", "err", err)
		os.Exit(1)
	}
}

// BrokerMetricsHook updates the exporter's own metrics based on MQTT
// server events.
type BrokerMetricsHook struct {
	mqtt.HookBase
	metrics *selfMetrics
}

func (h *BrokerMetricsHook) ID() string {
	return "broker-metrics"
}

func (h *BrokerMetricsHook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mqtt.OnConnect,
		mqtt.OnDisconnect,
	}, []byte{b})
}

func (h *BrokerMetricsHook) OnConnect(*mqtt.Client, packets.Packet) error {
	h.metrics.connectedClients.Inc()
	h.metrics.totalConnections.Inc()
	return nil
}

func (h *BrokerMetricsHook) OnDisconnect(cl *mqtt.Client, err error, expire bool) {
	h.metrics.connectedClients.Dec()
	if err != nil {
		h.metrics.uncleanDisconnects.Inc()
	}
}

// The per-message pipeline: decode, route, interpret, apply.

package main

import (
	"log/slog"
	"sync"
	"unicode/utf8"
)

// Pipeline wires the router, the sink and the exporter's own metrics
// together. Ingest is serialized by a single mutex: instrument creation
// and state-history updates are mutable state, and the broker may invoke
// subscription callbacks from multiple connection goroutines.
type Pipeline struct {
	router  *Router
	sink    *Sink
	metrics *selfMetrics

	mu sync.Mutex
}

func NewPipeline(router *Router, sink *Sink, metrics *selfMetrics) *Pipeline {
	return &Pipeline{router: router, sink: sink, metrics: metrics}
}

// Ingest processes one inbound message completely. No failure past
// startup is fatal: bad payloads and rejected updates are counted and
// logged, then dropped.
func (p *Pipeline) Ingest(topic string, payload []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.metrics.messagesReceived.Inc()

	if !utf8.Valid(payload) {
		p.metrics.decodeFailures.Inc()
		slog.Debug("non utf-8 payload", "topic", topic)
		return
	}

	mappings := p.router.Route(topic)
	if len(mappings) == 0 {
		p.metrics.unmatchedTopics.Inc()
		slog.Debug("unmatched topic", "topic", topic)
		return
	}

	text := string(payload)
	for _, m := range mappings {
		records, err := m.Interpret(topic, text)
		if err != nil {
			p.metrics.extractionFailures.Inc()
			slog.Debug("dropping event", "topic", topic, "subscribe", m.Topic, "err", err)
			continue
		}
		for _, rec := range records {
			slog.Debug("metric update", "name", rec.Name, "labels", rec.Labels, "value", rec.Value)
			if err := p.sink.Apply(rec); err != nil {
				p.metrics.sinkErrors.Inc()
				slog.Error("metric update rejected", "name", rec.Name, "err", err)
			}
		}
	}
}

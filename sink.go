// The metric sink: the only process-wide mutable state. Maps metric names
// to live Prometheus instruments, created lazily from the first record
// seen for each name.

package main

import (
	"fmt"
	"slices"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
)

// Sink applies metric records to instruments registered on its own
// registry. The registry is owned, not the package default, so lifecycle
// follows the Sink.
type Sink struct {
	registry    *prometheus.Registry
	instruments map[string]*instrument
}

// instrument is one live metric plus the schema frozen at creation: the
// kind and the exact label-name set every later record must carry.
type instrument struct {
	kind         MetricKind
	recordLabels []string
	counter      *prometheus.CounterVec
	gauge        *prometheus.GaugeVec
	infoName     string
	stateLabel   string
	states       []string
}

func NewSink() *Sink {
	return &Sink{
		registry:    prometheus.NewRegistry(),
		instruments: map[string]*instrument{},
	}
}

// Registry exposes the owned registry for the exposition handler.
func (s *Sink) Registry() *prometheus.Registry {
	return s.registry
}

// Apply updates the instrument for one metric record, creating it on
// first observation. Errors are sink inconsistencies: the record does not
// fit the schema frozen when the instrument was created, or violates the
// kind's semantics. They are reported, never fatal.
func (s *Sink) Apply(m Metric) error {
	inst, ok := s.instruments[m.Name]
	if !ok {
		var err error
		inst, err = s.newInstrument(m)
		if err != nil {
			return err
		}
		s.instruments[m.Name] = inst
	}

	if m.Kind != inst.kind {
		return fmt.Errorf("metric %s is a %s, got a %s record", m.Name, inst.kind, m.Kind)
	}
	if !slices.Equal(sortedKeys(m.Labels), inst.recordLabels) {
		return fmt.Errorf("metric %s was created with labels %v, got %v", m.Name, inst.recordLabels, sortedKeys(m.Labels))
	}

	switch inst.kind {
	case KindCounter:
		if m.Value < 0 {
			return fmt.Errorf("metric %s: counter increment %v is negative", m.Name, m.Value)
		}
		inst.counter.With(m.Labels).Add(m.Value)
	case KindGauge:
		inst.gauge.With(m.Labels).Set(m.Value)
	case KindInfo:
		if m.InfoName != inst.infoName {
			return fmt.Errorf("metric %s: info field %q does not match %q", m.Name, m.InfoName, inst.infoName)
		}
		// Previous values under the same identifying labels are
		// replaced, not accumulated.
		inst.gauge.DeletePartialMatch(m.Labels)
		lv := cloneLabels(m.Labels)
		lv[inst.infoName] = m.StrValue
		inst.gauge.With(lv).Set(1)
	case KindState:
		if !slices.Contains(inst.states, m.StrValue) {
			return fmt.Errorf("metric %s: state %q is not in the declared state set", m.Name, m.StrValue)
		}
		// Native exclusive transition: the active state reads 1,
		// every other declared state 0.
		for _, st := range inst.states {
			lv := cloneLabels(m.Labels)
			lv[inst.stateLabel] = st
			v := 0.0
			if st == m.StrValue {
				v = 1.0
			}
			inst.gauge.With(lv).Set(v)
		}
	default:
		return fmt.Errorf("metric %s: cannot apply kind %s", m.Name, inst.kind)
	}
	return nil
}

func (s *Sink) newInstrument(m Metric) (*instrument, error) {
	names := sortedKeys(m.Labels)
	inst := &instrument{kind: m.Kind, recordLabels: names}

	var c prometheus.Collector
	switch m.Kind {
	case KindCounter:
		inst.counter = prometheus.NewCounterVec(prometheus.CounterOpts{Name: m.Name}, names)
		c = inst.counter
	case KindGauge:
		inst.gauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: m.Name}, names)
		c = inst.gauge
	case KindInfo:
		if _, ok := m.Labels[m.InfoName]; ok {
			return nil, fmt.Errorf("metric %s: info field %q collides with a label", m.Name, m.InfoName)
		}
		inst.infoName = m.InfoName
		inst.gauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: m.Name + "_info"}, append(slices.Clone(names), m.InfoName))
		c = inst.gauge
	case KindState:
		if len(m.States) == 0 {
			return nil, fmt.Errorf("metric %s: state record without a declared state set", m.Name)
		}
		inst.stateLabel = m.StateLabel
		inst.states = slices.Clone(m.States)
		inst.gauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: m.Name}, names)
		c = inst.gauge
	default:
		return nil, fmt.Errorf("metric %s: cannot create instrument for kind %s", m.Name, m.Kind)
	}

	if err := s.registry.Register(c); err != nil {
		return nil, fmt.Errorf("metric %s: %w", m.Name, err)
	}
	return inst, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Metric kinds and the intermediate metric record produced by mapping
// interpretation.

package main

import "fmt"

// MetricKind is the closed set of instrument semantics a mapping can emit.
type MetricKind int

const (
	// KindNone subscribes to the topic but never emits anything.
	KindNone MetricKind = iota
	KindGauge
	KindCounter
	KindInfo
	KindState
)

func (k MetricKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindGauge:
		return "gauge"
	case KindCounter:
		return "counter"
	case KindInfo:
		return "info"
	case KindState:
		return "enum"
	default:
		return fmt.Sprintf("MetricKind(%d)", int(k))
	}
}

// parseMetricKind maps the config-file metric_type value to a kind.
// An empty value means gauge, matching the config format's default.
func parseMetricKind(s string) (MetricKind, error) {
	switch s {
	case "", "gauge":
		return KindGauge, nil
	case "counter":
		return KindCounter, nil
	case "info":
		return KindInfo, nil
	case "enum", "state":
		return KindState, nil
	case "none":
		return KindNone, nil
	default:
		return KindNone, fmt.Errorf("unknown metric_type %q", s)
	}
}

// Metric is a single interpreted update: which instrument to touch, with
// which label values, and the value to apply. Records are ephemeral; they
// carry everything the sink needs so that it holds no per-mapping
// configuration of its own.
type Metric struct {
	Kind   MetricKind
	Name   string
	Labels map[string]string

	// Value is set for gauge and counter records, StrValue for info and
	// state records.
	Value    float64
	StrValue string

	// InfoName is the field name an info record's string is exported
	// under.
	InfoName string

	// StateLabel and States are set on native state records: the label
	// acting as the exclusive discriminator and the closed set of valid
	// states.
	StateLabel string
	States     []string
}

// Mapping compilation and interpretation: turning a declared subscription
// pattern into a canonical topic, a matcher, a label-extraction plan and a
// precedence score, and turning matched messages into metric records.

package main

import (
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// ConfigError reports an invalid mapping declaration. It is fatal at
// startup; nothing is subscribed once one is returned.
type ConfigError struct {
	Subscribe string
	Reason    string
}

func (e *ConfigError) Error() string {
	if e.Subscribe == "" {
		return "mapping: " + e.Reason
	}
	return fmt.Sprintf("mapping %q: %s", e.Subscribe, e.Reason)
}

func configErrorf(subscribe, format string, args ...any) error {
	return &ConfigError{Subscribe: subscribe, Reason: fmt.Sprintf(format, args...)}
}

// Sentinel label sources beyond plain topic-segment indices.
const (
	labelSourcePayload = -1
	labelSourceState   = -2
)

// labelRef binds a label name to where its value comes from: a zero-based
// topic segment, the whole payload, or the state discriminator.
type labelRef struct {
	name  string
	index int
}

var wildcardNameRe = regexp.MustCompile(`^\w+$`)

// Mapping is one compiled subscription pattern plus everything needed to
// interpret messages that match it. Immutable after construction except
// for the exclusivity history of simulated state mappings.
type Mapping struct {
	// Topic is the pattern with named wildcards reduced to bare form,
	// used for the actual subscription.
	Topic string
	Kind  MetricKind

	labels     []labelRef
	metricName string
	strategy   valueStrategy
	valueMap   map[string]float64
	infoName   string
	stateLabel string
	states     []string
	simulate   bool

	matchRe    *regexp.Regexp
	precedence float64

	mu   sync.Mutex
	seen map[string][]string // simulated state history per non-state label set
}

// NewMapping compiles a mapping declaration. All validation happens here;
// a mapping that compiles never fails for configuration reasons at
// runtime.
func NewMapping(cfg MappingConfig) (*Mapping, error) {
	if cfg.Subscribe == "" {
		return nil, configErrorf("", "subscribe pattern is required")
	}
	kind, err := parseMetricKind(cfg.MetricType)
	if err != nil {
		return nil, configErrorf(cfg.Subscribe, "%s", err)
	}

	segs := strings.Split(cfg.Subscribe, "/")
	canonical := make([]string, len(segs))
	var labels []labelRef
	for i, seg := range segs {
		switch {
		case strings.Contains(seg, "#"):
			if seg != "#" || i != len(segs)-1 {
				return nil, configErrorf(cfg.Subscribe, "multi-level wildcard must be the final segment")
			}
			canonical[i] = "#"
		case seg == "+":
			canonical[i] = "+"
		case strings.HasPrefix(seg, "+"):
			name := seg[1:]
			if !wildcardNameRe.MatchString(name) {
				return nil, configErrorf(cfg.Subscribe, "invalid wildcard label name %q", name)
			}
			labels = append(labels, labelRef{name: name, index: i})
			canonical[i] = "+"
		case strings.Contains(seg, "+"):
			return nil, configErrorf(cfg.Subscribe, "wildcard must be a whole segment, got %q", seg)
		default:
			canonical[i] = seg
		}
	}
	multiLevel := canonical[len(canonical)-1] == "#"

	// Explicitly declared labels come after the embedded ones, in name
	// order for determinism.
	declared := make([]string, 0, len(cfg.Labels))
	for name := range cfg.Labels {
		declared = append(declared, name)
	}
	sort.Strings(declared)
	stateLabel := ""
	for _, name := range declared {
		for _, l := range labels {
			if l.name == name {
				return nil, configErrorf(cfg.Subscribe, "label %q declared twice", name)
			}
		}
		src := cfg.Labels[name]
		switch {
		case src.Payload:
			// Payload labels imply string values, so only kinds
			// without a standalone numeric reading accept them; a
			// native state instrument reads the payload as its
			// state, never as a label.
			if kind == KindGauge || kind == KindInfo || (kind == KindState && !cfg.SimulateStates) {
				return nil, configErrorf(cfg.Subscribe, "payload label %q is incompatible with metric_type %s", name, kind)
			}
			labels = append(labels, labelRef{name: name, index: labelSourcePayload})
		case src.State:
			if kind != KindState {
				return nil, configErrorf(cfg.Subscribe, "state label %q requires metric_type enum", name)
			}
			if stateLabel != "" {
				return nil, configErrorf(cfg.Subscribe, "only one state label is allowed")
			}
			stateLabel = name
			labels = append(labels, labelRef{name: name, index: labelSourceState})
		default:
			if !multiLevel && src.Index >= len(segs) {
				return nil, configErrorf(cfg.Subscribe, "label %q references segment %d beyond the pattern", name, src.Index)
			}
			labels = append(labels, labelRef{name: name, index: src.Index})
		}
	}

	switch kind {
	case KindState:
		if stateLabel == "" {
			return nil, configErrorf(cfg.Subscribe, "metric_type enum requires a state label")
		}
		if !cfg.SimulateStates && len(cfg.EnumStates) == 0 {
			return nil, configErrorf(cfg.Subscribe, "metric_type enum requires enum_states unless simulate_states is set")
		}
	default:
		if len(cfg.EnumStates) > 0 {
			return nil, configErrorf(cfg.Subscribe, "enum_states requires metric_type enum")
		}
	}
	infoName := ""
	if kind == KindInfo {
		infoName = cfg.InfoName
		if infoName == "" {
			infoName = "value"
		}
	} else if cfg.InfoName != "" {
		return nil, configErrorf(cfg.Subscribe, "info_name requires metric_type info")
	}

	strategy, err := newValueStrategy(cfg)
	if err != nil {
		return nil, configErrorf(cfg.Subscribe, "%s", err)
	}

	topic := strings.Join(canonical, "/")
	m := &Mapping{
		Topic:      topic,
		Kind:       kind,
		labels:     labels,
		metricName: cfg.MetricName,
		strategy:   strategy,
		valueMap:   cfg.ValueMap,
		infoName:   infoName,
		stateLabel: stateLabel,
		states:     cfg.EnumStates,
		simulate:   cfg.SimulateStates,
		matchRe:    compileMatcher(canonical, multiLevel),
		seen:       map[string][]string{},
	}

	// Longer patterns are more specific; among equal depth an exact
	// terminator beats a trailing multi-level wildcard.
	m.precedence = float64(len(canonical))
	if !multiLevel {
		m.precedence += 0.5
	}
	return m, nil
}

// compileMatcher builds the anchored topic matcher. A bare wildcard
// matches one slash-free segment; a trailing multi-level wildcard turns
// the matcher into a prefix match requiring at least the separator.
func compileMatcher(canonical []string, multiLevel bool) *regexp.Regexp {
	n := len(canonical)
	if multiLevel {
		n--
	}
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString("/")
		}
		if canonical[i] == "+" {
			b.WriteString(`[^/]+`)
		} else {
			b.WriteString(regexp.QuoteMeta(canonical[i]))
		}
	}
	if multiLevel {
		if n > 0 {
			b.WriteString("/")
		}
	} else {
		b.WriteString("$")
	}
	return regexp.MustCompile(b.String())
}

// MatchTopic reports whether a concrete topic is handled by this mapping.
func (m *Mapping) MatchTopic(topic string) bool {
	return m.matchRe.MatchString(topic)
}

// Precedence is the specificity score used by the router to resolve
// overlapping patterns.
func (m *Mapping) Precedence() float64 {
	return m.precedence
}

// Interpret turns one matched message into zero or more metric records.
// A returned error is a per-event extraction failure; the event is
// dropped for this mapping only.
func (m *Mapping) Interpret(topic, payload string) ([]Metric, error) {
	if m.Kind == KindNone {
		return nil, nil
	}
	parts := strings.Split(topic, "/")

	extracted, err := m.strategy.extract(payload)
	if err != nil {
		return nil, err
	}

	labelValues := make(map[string]string, len(m.labels))
	consumed := make(map[int]bool)
	payloadLabeled := false
	for _, l := range m.labels {
		switch l.index {
		case labelSourcePayload:
			labelValues[l.name] = extracted
			payloadLabeled = true
		case labelSourceState:
			labelValues[l.name] = extracted
		default:
			if l.index >= len(parts) {
				return nil, fmt.Errorf("label %q references segment %d, topic %q has %d", l.name, l.index, topic, len(parts))
			}
			consumed[l.index] = true
			labelValues[l.name] = parts[l.index]
		}
	}

	name := m.metricName
	if name == "" {
		kept := make([]string, 0, len(parts))
		for i, p := range parts {
			if !consumed[i] {
				kept = append(kept, p)
			}
		}
		name = strings.ToLower(strings.ReplaceAll(strings.Join(kept, "_"), "-", "_"))
	}

	switch m.Kind {
	case KindCounter, KindGauge:
		if payloadLabeled {
			return []Metric{{Kind: m.Kind, Name: name, Labels: labelValues, Value: 1}}, nil
		}
		v, err := m.numericValue(extracted)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q: %w", extracted, err)
		}
		return []Metric{{Kind: m.Kind, Name: name, Labels: labelValues, Value: v}}, nil
	case KindInfo:
		return []Metric{{Kind: KindInfo, Name: name, Labels: labelValues, StrValue: extracted, InfoName: m.infoName}}, nil
	case KindState:
		if len(m.states) > 0 && !slices.Contains(m.states, extracted) {
			return nil, fmt.Errorf("state %q is not in enum_states", extracted)
		}
		if m.simulate {
			return m.simulateState(name, labelValues, extracted), nil
		}
		return []Metric{{
			Kind:       KindState,
			Name:       name,
			Labels:     labelValues,
			StrValue:   extracted,
			StateLabel: m.stateLabel,
			States:     m.states,
		}}, nil
	default:
		return nil, nil
	}
}

// simulateState emits the exclusivity fallback for platforms without a
// native state instrument: one zero record for every state previously
// observed under the same non-state label set, then the new state at 1.
func (m *Mapping) simulateState(name string, labelValues map[string]string, state string) []Metric {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := historyKey(labelValues, m.stateLabel)
	prev := m.seen[key]

	records := make([]Metric, 0, len(prev)+1)
	for _, old := range prev {
		lv := cloneLabels(labelValues)
		lv[m.stateLabel] = old
		records = append(records, Metric{Kind: KindGauge, Name: name, Labels: lv, Value: 0})
	}
	if !slices.Contains(prev, state) {
		m.seen[key] = append(prev, state)
	}
	records = append(records, Metric{Kind: KindGauge, Name: name, Labels: cloneLabels(labelValues), Value: 1})
	return records
}

// numericValue resolves the numeric reading for counter and gauge
// mappings: an optional value_map remap first, then the first
// whitespace-delimited token parsed as a float.
func (m *Mapping) numericValue(extracted string) (float64, error) {
	if v, ok := m.valueMap[strings.TrimSpace(extracted)]; ok {
		return v, nil
	}
	fields := strings.Fields(extracted)
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty value")
	}
	return strconv.ParseFloat(fields[0], 64)
}

func historyKey(labels map[string]string, skip string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		if k != skip {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
		b.WriteByte(0)
	}
	return b.String()
}

func cloneLabels(labels map[string]string) map[string]string {
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

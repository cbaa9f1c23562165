// Routing of inbound topics to compiled mappings.

package main

import (
	"math"
	"slices"
	"sort"
)

// Router holds the compiled mappings sorted once by precedence. Read-only
// after construction, safe for concurrent use.
type Router struct {
	mappings []*Mapping
}

func NewRouter(mappings []*Mapping) *Router {
	sorted := slices.Clone(mappings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].precedence > sorted[j].precedence
	})
	return &Router{mappings: sorted}
}

// Route returns every mapping tied at the highest precedence that matches
// the topic. Lower-precedence matches are never used as fallback; an
// unmatched topic yields an empty result.
func (r *Router) Route(topic string) []*Mapping {
	var matched []*Mapping
	best := math.Inf(-1)
	for _, m := range r.mappings {
		if !m.MatchTopic(topic) {
			continue
		}
		if m.precedence < best {
			// Everything after this has precedence <= this one, so
			// no further mapping can tie with the best.
			break
		}
		matched = append(matched, m)
		best = m.precedence
	}
	return matched
}

// Topics returns the deduplicated set of canonical topics to subscribe
// to, in precedence order.
func (r *Router) Topics() []string {
	seen := make(map[string]bool, len(r.mappings))
	topics := make([]string, 0, len(r.mappings))
	for _, m := range r.mappings {
		if seen[m.Topic] {
			continue
		}
		seen[m.Topic] = true
		topics = append(topics, m.Topic)
	}
	return topics
}

// Value extraction strategies. Each mapping carries exactly one strategy,
// chosen at compile time from its config.

package main

import (
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

type valueStrategyKind int

const (
	valueIdentity valueStrategyKind = iota
	valueRegex
	valueJSONPath
	valueQuery
)

// valueStrategy converts a raw payload string into the value a mapping
// works with. It is an explicit tagged variant rather than a stored
// closure so strategies can be inspected and tested in isolation.
type valueStrategy struct {
	kind  valueStrategyKind
	re    *regexp.Regexp // valueRegex
	path  string         // valueJSONPath, gjson path syntax
	query string         // valueQuery, jq expression
}

func newValueStrategy(cfg MappingConfig) (valueStrategy, error) {
	declared := 0
	for _, v := range []string{cfg.ValueRegex, cfg.ValueJSON, cfg.ValueJQ} {
		if v != "" {
			declared++
		}
	}
	if declared > 1 {
		return valueStrategy{}, fmt.Errorf("value_regex, value_json and value_jq are mutually exclusive")
	}

	switch {
	case cfg.ValueRegex != "":
		re, err := regexp.Compile(cfg.ValueRegex)
		if err != nil {
			return valueStrategy{}, fmt.Errorf("invalid value_regex: %w", err)
		}
		if re.NumSubexp() < 1 {
			return valueStrategy{}, fmt.Errorf("value_regex %q has no capture group", cfg.ValueRegex)
		}
		return valueStrategy{kind: valueRegex, re: re}, nil
	case cfg.ValueJSON != "":
		return valueStrategy{kind: valueJSONPath, path: cfg.ValueJSON}, nil
	case cfg.ValueJQ != "":
		return valueStrategy{kind: valueQuery, query: cfg.ValueJQ}, nil
	default:
		return valueStrategy{kind: valueIdentity}, nil
	}
}

// extract runs the strategy over a payload. Any error is a per-event
// extraction failure, never fatal.
func (s valueStrategy) extract(payload string) (string, error) {
	switch s.kind {
	case valueIdentity:
		return payload, nil
	case valueRegex:
		m := s.re.FindStringSubmatch(payload)
		if m == nil {
			return "", fmt.Errorf("payload does not match value_regex %q", s.re.String())
		}
		if m[1] == "" {
			return "", fmt.Errorf("value_regex %q captured nothing", s.re.String())
		}
		return m[1], nil
	case valueJSONPath:
		r := gjson.Get(payload, s.path)
		if !r.Exists() {
			return "", fmt.Errorf("value_json path %q not present in payload", s.path)
		}
		return r.String(), nil
	case valueQuery:
		return runQuery(s.query, payload)
	default:
		return "", fmt.Errorf("unknown value strategy %d", s.kind)
	}
}

// queryCommand is the external query helper invoked for value_jq
// mappings. Overridable in tests.
var queryCommand = "jq"

// runQuery hands the payload to the external query helper and returns its
// trimmed stdout. The helper is a black box: a non-zero exit or empty
// output is an extraction failure.
func runQuery(query, payload string) (string, error) {
	cmd := exec.Command(queryCommand, query)
	cmd.Stdin = strings.NewReader(payload)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("query %q failed: %w", query, err)
	}
	s := strings.TrimSpace(string(out))
	if s == "" {
		return "", fmt.Errorf("query %q produced no output", query)
	}
	return s, nil
}

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityStrategy(t *testing.T) {
	s, err := newValueStrategy(MappingConfig{})
	require.NoError(t, err)

	v, err := s.extract("12 W")
	require.NoError(t, err)
	assert.Equal(t, "12 W", v)
}

func TestRegexStrategy(t *testing.T) {
	s, err := newValueStrategy(MappingConfig{ValueRegex: `^.+:(.+):.+`})
	require.NoError(t, err)

	v, err := s.extract("1695557017:720167:29751")
	require.NoError(t, err)
	assert.Equal(t, "720167", v)

	_, err = s.extract("nope")
	assert.Error(t, err)
}

func TestRegexStrategyEmptyCapture(t *testing.T) {
	s, err := newValueStrategy(MappingConfig{ValueRegex: `^a(b?)c$`})
	require.NoError(t, err)

	// A group that captures nothing is as much a failure as no match.
	_, err = s.extract("ac")
	assert.Error(t, err)

	v, err := s.extract("abc")
	require.NoError(t, err)
	assert.Equal(t, "b", v)
}

func TestRegexStrategyRequiresCaptureGroup(t *testing.T) {
	_, err := newValueStrategy(MappingConfig{ValueRegex: `^.*$`})
	assert.Error(t, err)
}

func TestJSONPathStrategy(t *testing.T) {
	s, err := newValueStrategy(MappingConfig{ValueJSON: "apower"})
	require.NoError(t, err)

	v, err := s.extract(`{"apower": 1337.0}`)
	require.NoError(t, err)
	assert.Equal(t, "1337", v)

	_, err = s.extract(`{"voltage": 230}`)
	assert.Error(t, err)
}

func TestJSONPathStrategyNested(t *testing.T) {
	s, err := newValueStrategy(MappingConfig{ValueJSON: "meter.power"})
	require.NoError(t, err)

	v, err := s.extract(`{"meter": {"power": 42.5}}`)
	require.NoError(t, err)
	assert.Equal(t, "42.5", v)
}

func TestQueryStrategy(t *testing.T) {
	old := queryCommand
	t.Cleanup(func() { queryCommand = old })

	// "head -1" echoes the first input line back, standing in for the
	// real query helper.
	queryCommand = "head"
	v, err := runQuery("-1", "first\nsecond\n")
	require.NoError(t, err)
	assert.Equal(t, "first", v)
}

func TestQueryStrategyFailure(t *testing.T) {
	old := queryCommand
	t.Cleanup(func() { queryCommand = old })

	// Non-zero exit is an extraction failure.
	queryCommand = "false"
	_, err := runQuery(".", "{}")
	assert.Error(t, err)

	// So is empty output.
	queryCommand = "true"
	_, err = runQuery(".", "{}")
	assert.Error(t, err)
}

func TestStrategiesAreExclusive(t *testing.T) {
	_, err := newValueStrategy(MappingConfig{ValueRegex: `^(.*)$`, ValueJQ: ".x"})
	assert.Error(t, err)

	_, err = newValueStrategy(MappingConfig{ValueJSON: "x", ValueJQ: ".x"})
	assert.Error(t, err)
}

package main

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvConfig holds process-level settings taken from the environment.
// They override the corresponding fields of the YAML document.
type EnvConfig struct {
	ConfigFile string `envconfig:"CONFIG_FILE"`

	MetricsAddr string `envconfig:"METRICS_ADDR"`
	MqttAddr    string `envconfig:"MQTT_ADDR"`

	ServerCert   string `envconfig:"SERVER_CERT_FILE"`
	ServerKey    string `envconfig:"SERVER_KEY_FILE"`
	ClientCACert string `envconfig:"CLIENT_CA_CERT"`
}

func loadEnvConfig() (EnvConfig, error) {
	var env EnvConfig
	err := envconfig.Process("mqtt_pattern_exporter", &env)
	return env, err
}

// Config is the YAML mappings document.
type Config struct {
	LogLevel string `yaml:"log_level"`

	MQTT struct {
		Listen string `yaml:"listen"`
	} `yaml:"mqtt"`

	Prometheus struct {
		Listen string `yaml:"listen"`
	} `yaml:"prometheus"`

	Export []MappingConfig `yaml:"export"`
}

// MappingConfig is one declared mapping, the configuration-side twin of
// a compiled Mapping.
type MappingConfig struct {
	Subscribe  string `yaml:"subscribe"`
	MetricName string `yaml:"metric_name"`
	MetricType string `yaml:"metric_type"`

	// Labels beyond the named wildcards embedded in the pattern. The
	// source is a segment index, "payload", or "state".
	Labels map[string]LabelSource `yaml:"labels"`

	ValueRegex string             `yaml:"value_regex"`
	ValueJSON  string             `yaml:"value_json"`
	ValueJQ    string             `yaml:"value_jq"`
	ValueMap   map[string]float64 `yaml:"value_map"`

	EnumStates     []string `yaml:"enum_states"`
	SimulateStates bool     `yaml:"simulate_states"`
	InfoName       string   `yaml:"info_name"`
}

// LabelSource is where a declared label's value comes from: a zero-based
// topic segment index, the whole payload, or the state discriminator.
type LabelSource struct {
	Index   int
	Payload bool
	State   bool
}

func (s *LabelSource) UnmarshalYAML(value *yaml.Node) error {
	var i int
	if err := value.Decode(&i); err == nil {
		if i < 0 {
			return fmt.Errorf("label segment index must not be negative, got %d", i)
		}
		s.Index = i
		return nil
	}
	var str string
	if err := value.Decode(&str); err != nil {
		return fmt.Errorf("label source must be a segment index, \"payload\" or \"state\"")
	}
	switch str {
	case "payload":
		s.Payload = true
	case "state", "enum":
		s.State = true
	default:
		return fmt.Errorf("unknown label source %q", str)
	}
	return nil
}

func loadConfig(path string) (Config, error) {
	var cfg Config
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	if cfg.MQTT.Listen == "" {
		cfg.MQTT.Listen = ":1883"
	}
	if cfg.Prometheus.Listen == "" {
		cfg.Prometheus.Listen = "127.0.0.1:9100"
	}
	return cfg, nil
}

// compileMappings compiles every declared mapping, failing on the first
// ConfigError.
func compileMappings(declarations []MappingConfig) ([]*Mapping, error) {
	mappings := make([]*Mapping, 0, len(declarations))
	for _, decl := range declarations {
		m, err := NewMapping(decl)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	return mappings, nil
}

package main

import (
	"crypto/tls"
	"crypto/x509"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/prometheus/client_golang/prometheus"
)

func fatal(msg string, args ...any) {
	slog.Error(msg, args...)
	os.Exit(1)
}

func main() {
	env, err := loadEnvConfig()
	if err != nil {
		fatal("reading environment failed", "err", err)
	}

	path := env.ConfigFile
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	if path == "" {
		fatal("no config file: pass it as the first argument or set CONFIG_FILE")
	}

	cfg, err := loadConfig(path)
	if err != nil {
		fatal("loading config failed", "err", err)
	}
	setupLogging(cfg.LogLevel)

	mappings, err := compileMappings(cfg.Export)
	if err != nil {
		fatal("invalid mapping", "err", err)
	}
	router := NewRouter(mappings)
	sink := NewSink()
	selfRegistry := prometheus.NewRegistry()
	pipeline := NewPipeline(router, sink, newSelfMetrics(selfRegistry))

	metricsAddr := cfg.Prometheus.Listen
	if env.MetricsAddr != "" {
		metricsAddr = env.MetricsAddr
	}
	mqttAddr := cfg.MQTT.Listen
	if env.MqttAddr != "" {
		mqttAddr = env.MqttAddr
	}

	// Create signals channel to run server until interrupted
	sigs := make(chan os.Signal, 1)
	done := make(chan bool, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		done <- true
	}()

	go runMetricsServer(metricsAddr, prometheus.Gatherers{sink.Registry(), selfRegistry})

	server := mqtt.New(
		&mqtt.Options{
			InlineClient: true, // needed for direct subscribing below
		},
	)
	_ = server.AddHook(&OpenAuthHook{}, nil)
	_ = server.AddHook(&BrokerMetricsHook{metrics: pipeline.metrics}, nil)

	var tlsConfig *tls.Config
	if env.ServerCert != "" && env.ServerKey != "" {
		slog.Info("server certificate and key provided, enabling TLS")
		cert, err := tls.LoadX509KeyPair(env.ServerCert, env.ServerKey)
		if err != nil {
			fatal("loading server certificate failed", "cert", env.ServerCert, "key", env.ServerKey, "err", err)
		}
		tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
		}

		if env.ClientCACert != "" {
			slog.Info("client CA certificate provided, enabling client certificate verification")
			caCert, err := os.ReadFile(env.ClientCACert)
			if err != nil {
				fatal("reading client CA certificate failed", "path", env.ClientCACert, "err", err)
			}
			tlsConfig.ClientCAs = x509.NewCertPool()
			if !tlsConfig.ClientCAs.AppendCertsFromPEM(caCert) {
				fatal("parsing client CA certificate failed", "path", env.ClientCACert)
			}
			tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
		}
	}

	tcp := listeners.NewTCP(listeners.Config{ID: "t1", Address: mqttAddr, TLSConfig: tlsConfig})
	if err := server.AddListener(tcp); err != nil {
		fatal("adding mqtt listener failed", "err", err)
	}

	go func() {
		slog.Info("starting mqtt server", "addr", mqttAddr)
		if err := server.Serve(); err != nil {
			fatal("mqtt server failed", "err", err)
		}
	}()

	for i, topic := range router.Topics() {
		slog.Info("subscribing", "topic", topic)
		err := server.Subscribe(topic, i+1, func(cl *mqtt.Client, sub packets.Subscription, pk packets.Packet) {
			pipeline.Ingest(pk.TopicName, pk.Payload)
		})
		if err != nil {
			fatal("subscribing failed", "topic", topic, "err", err)
		}
	}

	<-done
	_ = server.Close()
}

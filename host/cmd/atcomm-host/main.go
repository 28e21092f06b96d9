package main

import (
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"atcomm/host/config"
	"atcomm/host/link"
	"atcomm/host/logging"
	"atcomm/host/serial"
)

var (
	configPath = flag.String("config", "", "Path to TOML config (built-in defaults when empty)")
	device     = flag.String("device", "", "Serial device path (overrides config)")
	baud       = flag.Int("baud", 0, "Baud rate (overrides config)")
	verbose    = flag.Bool("verbose", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New("atcomm-host", cfg.Log.Level)

	if cfg.Metrics.Addr != "" {
		go serveMetrics(cfg.Metrics.Addr, logger)
	}

	port, err := serial.Open(&cfg.Serial)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect")
	}

	l := link.New(port, linkConfig(cfg.Link), logger)

	logger.Info().
		Str("device", cfg.Serial.Device).
		Int("baud", cfg.Serial.Baud).
		Uint8("local", cfg.Link.LocalID).
		Uint8("peer", cfg.Link.PeerID).
		Msg("link up")

	s := newSession(l, cfg.Link.PeerID, cfg.Link.AckTimeout(), os.Stdout)

	fmt.Println("Enter commands (type 'help' for available commands, 'quit' to exit):")
	err = s.run(os.Stdin)
	if cerr := l.Close(); cerr != nil {
		logger.Warn().Err(cerr).Msg("closing link")
	}
	if err != nil {
		logger.Error().Err(err).Msg("reading input")
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return config.Config{}, err
		}
	}
	if *device != "" {
		cfg.Serial.Device = *device
	}
	if *baud != 0 {
		cfg.Serial.Baud = *baud
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, config.Validate(cfg)
}

func linkConfig(c config.LinkConfig) link.Config {
	return link.Config{
		LocalID:    c.LocalID,
		PeerID:     c.PeerID,
		BufferSize: c.BufferSize,
		AckTimeout: c.AckTimeout(),
		AutoAck:    c.AutoAckEnabled(),
		QueueDepth: c.QueueDepth,
	}
}

func serveMetrics(addr string, logger zerolog.Logger) {
	link.RegisterMetrics()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	logger.Info().Str("addr", addr).Msg("serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server stopped")
	}
}

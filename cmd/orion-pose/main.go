package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/care/orion-pose/internal/config"
	"github.com/care/orion-pose/internal/core"
	"github.com/care/orion-pose/internal/engine"
	"github.com/care/orion-pose/internal/exchange"
	"github.com/care/orion-pose/internal/preview"
	"github.com/care/orion-pose/internal/source"
	"github.com/care/orion-pose/internal/source/rtsp"
	"github.com/care/orion-pose/internal/transport"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (built-in defaults when empty)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	overrides := config.RegisterFlags(flag.CommandLine)
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			return 1
		}
		cfg = loaded
	}
	overrides.Apply(cfg)

	// Setup structured logger
	logLevel := config.LogLevel(cfg.LoggingLevel)
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting orion-pose",
		"config", *configPath,
		"instance_id", cfg.InstanceID,
		"camera_source", cfg.Camera.Source,
		"engine", cfg.Engine.Kind,
	)

	resolved, err := config.Resolve(cfg)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Transport
	var bus transport.PubSub = transport.Discard{}
	var link core.Connectivity
	if cfg.MQTT.Broker != "" {
		m := transport.NewMQTT(transport.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			QoS:      topicQoS(cfg),
		})
		if err := m.Connect(ctx); err != nil {
			slog.Error("failed to connect mqtt", "error", err)
			return 1
		}
		defer m.Disconnect()
		bus, link = m, m
	} else {
		slog.Warn("no mqtt broker configured, results are discarded")
	}

	ex := exchange.New()

	src, err := newSource(cfg, bus, ex)
	if err != nil {
		slog.Error("failed to create camera source", "error", err)
		return 1
	}

	eng, err := engine.New(cfg, resolved)
	if err != nil {
		slog.Error("failed to create engine", "error", err)
		return 1
	}

	opts := core.Options{
		Exchange: ex,
		Engine:   eng,
		Bus:      bus,
		Source:   src,
		Link:     link,
	}

	var extra map[string]http.Handler
	if cfg.Health.Addr != "" && cfg.Health.Preview {
		b := preview.NewBroadcaster(cfg.Health.PreviewQuality)
		go b.Run(ctx)
		opts.Observer = b.Offer
		extra = map[string]http.Handler{
			"/preview":     b,
			"/preview.jpg": http.HandlerFunc(b.SnapshotHandler),
		}
	}

	node, err := core.NewNode(cfg, opts)
	if err != nil {
		slog.Error("failed to create node", "error", err)
		return 1
	}
	if err := node.Configure(ctx); err != nil {
		slog.Error("failed to configure node", "error", err)
		return 1
	}

	// Start health check HTTP server (non-blocking)
	if cfg.Health.Addr != "" {
		server := node.StartHealthServer(cfg.Health.Addr, extra)
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer shutdownCancel()
			server.Shutdown(shutdownCtx)
		}()
	}

	// Run node in goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- node.Run(ctx)
	}()

	// Wait for shutdown signal or loop exit
	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
		node.Stop()
	case err := <-errChan:
		return exitCode(err)
	}

	shutdownTimeout := cfg.ShutdownTimeout()
	slog.Info("shutting down gracefully", "timeout", shutdownTimeout)

	select {
	case err := <-errChan:
		return exitCode(err)
	case <-time.After(shutdownTimeout):
		slog.Error("shutdown timed out waiting for the analysis in progress", "timeout", shutdownTimeout)
		return 1
	}
}

func exitCode(err error) int {
	if err != nil {
		slog.Error("orion-pose stopped on error", "error", err)
		return 1
	}
	slog.Info("orion-pose stopped successfully")
	return 0
}

// newSource builds the frame source selected by camera.source
func newSource(cfg *config.Config, bus transport.PubSub, ex *exchange.Exchange) (source.Source, error) {
	switch cfg.Camera.Source {
	case "mqtt":
		return source.NewMQTTSource(bus, cfg.Camera.Topic, cfg.QoSFor("camera"), ex)
	case "synthetic":
		return source.NewSynthetic(cfg.Camera.Width, cfg.Camera.Height, cfg.Camera.FPS, ex)
	case "rtsp":
		return rtsp.New(rtsp.Config{
			URL:    cfg.Camera.RTSPURL,
			Width:  cfg.Camera.Width,
			Height: cfg.Camera.Height,
			FPS:    cfg.Camera.FPS,
		}, ex)
	default:
		return nil, fmt.Errorf("%w: unknown camera source %q", config.ErrInvalid, cfg.Camera.Source)
	}
}

// topicQoS maps configured channels onto their topics
func topicQoS(cfg *config.Config) map[string]byte {
	t := cfg.MQTT.Topics
	return map[string]byte{
		cfg.Camera.Topic: cfg.QoSFor("camera"),
		t.Image:          cfg.QoSFor("image"),
		t.Keypoints:      cfg.QoSFor("keypoints"),
		t.Control:        cfg.QoSFor("control"),
		t.Status:         cfg.QoSFor("status"),
	}
}

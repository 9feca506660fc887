package core

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// HealthStatus represents the health state of the node
type HealthStatus struct {
	Status          string    `json:"status"` // "healthy", "degraded", "unhealthy"
	State           string    `json:"state"`
	UptimeSeconds   int64     `json:"uptime_seconds"`
	SourceConnected bool      `json:"source_connected"`
	MQTTConnected   bool      `json:"mqtt_connected"`
	FramesProcessed uint64    `json:"frames_processed"`
	FramesDropped   uint64    `json:"frames_dropped"`
	DropRate        float64   `json:"drop_rate"`
	AvgLatencyMS    float64   `json:"avg_latency_ms"`
	LastFrameAt     time.Time `json:"last_frame_at,omitempty"`
}

// HealthCheck returns the current health status of the node
func (n *Node) HealthCheck() HealthStatus {
	sum := n.recorder.summary(time.Now())
	_, lastAt := n.recorder.last()
	ex := n.opts.Exchange.Stats()

	status := HealthStatus{
		Status:          "healthy",
		State:           n.State().String(),
		UptimeSeconds:   int64(time.Since(n.created).Seconds()),
		SourceConnected: true,
		MQTTConnected:   true,
		FramesProcessed: sum.Frames,
		FramesDropped:   ex.Drops,
		DropRate:        ex.DropRate(),
		AvgLatencyMS:    sum.LatencyMeanMS,
		LastFrameAt:     lastAt,
	}

	if n.opts.Source != nil {
		status.SourceConnected = n.opts.Source.Stats().Connected
	}
	if n.opts.Link != nil {
		status.MQTTConnected = n.opts.Link.IsConnected()
	}

	if n.State() != StateRunning {
		status.Status = "unhealthy"
	} else if !status.SourceConnected || !status.MQTTConnected {
		status.Status = "degraded"
	}
	return status
}

// LivenessHandler handles /health: 200 while the process is alive
func (n *Node) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"status": "alive",
		"uptime": int64(time.Since(n.created).Seconds()),
	})
}

// ReadinessHandler handles /readiness: 503 unless the loop is running.
// A degraded node is still ready.
func (n *Node) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	health := n.HealthCheck()
	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(health)
}

// MetricsHandler handles /metrics in Prometheus text exposition format
func (n *Node) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	sum := n.recorder.summary(time.Now())
	ex := n.opts.Exchange.Stats()
	instance := n.cfg.InstanceID

	metric := func(name, help string, value any) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "%s{instance=%q} %v\n", name, instance, value)
	}
	metric("orion_pose_uptime_seconds", "Seconds since the node was created.", int64(time.Since(n.created).Seconds()))
	metric("orion_pose_frames_processed_total", "Frames analyzed and published.", sum.Frames)
	metric("orion_pose_frames_skipped_total", "Invalid frames skipped by the pipeline.", sum.Skipped)
	metric("orion_pose_frames_dropped_total", "Frames overwritten in the exchange before analysis.", ex.Drops)
	metric("orion_pose_average_fps", "Frames processed per second since the loop started.", sum.FPS)
	metric("orion_pose_latency_mean_ms", "Mean analysis latency over the recent window.", sum.LatencyMeanMS)
	metric("orion_pose_latency_p95_ms", "95th percentile analysis latency over the recent window.", sum.LatencyP95MS)
	if n.publisher != nil {
		ps := n.publisher.Stats()
		metric("orion_pose_publish_errors_total", "Transport errors while emitting results.", ps.EmitErrors)
	}
}

// HealthMux returns the health endpoints plus any extra routes
func (n *Node) HealthMux(extra map[string]http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", n.LivenessHandler)
	mux.HandleFunc("/readiness", n.ReadinessHandler)
	mux.HandleFunc("/metrics", n.MetricsHandler)
	for path, h := range extra {
		mux.Handle(path, h)
	}
	return mux
}

// StartHealthServer serves HealthMux on addr in the background.
// The caller shuts the returned server down.
func (n *Node) StartHealthServer(addr string, extra map[string]http.Handler) *http.Server {
	server := &http.Server{
		Addr:         addr,
		Handler:      n.HealthMux(extra),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	endpoints := []string{"/health", "/readiness", "/metrics"}
	for path := range extra {
		endpoints = append(endpoints, path)
	}
	slog.Info("starting health check server", "addr", addr, "endpoints", endpoints)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health check server failed", "error", err)
		}
	}()
	return server
}

package config

import (
	"errors"
	"fmt"
	"image"
	"regexp"
	"strconv"
	"strings"

	"github.com/care/orion-pose/internal/types"
)

// ErrInvalid is wrapped by every validation failure
var ErrInvalid = errors.New("invalid configuration")

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Resolved holds the parsed form of the string-typed pose settings
type Resolved struct {
	NetSize    image.Point
	OutputSize image.Point // (-1,-1) keeps the input frame size
	Model      types.PoseModel
}

// KeepInputSize reports whether the output canvas follows each frame's size
func (r Resolved) KeepInputSize() bool {
	return r.OutputSize.X < 0 || r.OutputSize.Y < 0
}

// Validate checks if the configuration is valid.
// It never modifies cfg, so the same input always yields the same answer.
func Validate(cfg *Config) error {
	_, err := Resolve(cfg)
	return err
}

// Resolve validates cfg and returns the parsed pose settings
func Resolve(cfg *Config) (Resolved, error) {
	if cfg == nil {
		return Resolved{}, invalid("config is nil")
	}

	if cfg.InstanceID == "" {
		return Resolved{}, invalid("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return Resolved{}, invalid("instance_id must match pattern [a-z0-9-]+")
	}

	if cfg.LoggingLevel < 0 || cfg.LoggingLevel > 255 {
		return Resolved{}, invalid("wrong logging_level value %d (must be in [0, 255])", cfg.LoggingLevel)
	}

	if cfg.PollInterval < 0 {
		return Resolved{}, invalid("poll_interval must be >= 0")
	}

	// Pose settings
	p := cfg.Pose
	if !inUnitRange(p.RenderThreshold) {
		return Resolved{}, invalid("render_threshold must be in the range [0,1], got %v", p.RenderThreshold)
	}
	if !inUnitRange(p.AlphaPose) {
		return Resolved{}, invalid("alpha value for blending must be in the range [0,1], got %v", p.AlphaPose)
	}
	if p.ScaleNumber < 1 {
		return Resolved{}, invalid("scale_number must be >= 1, got %d", p.ScaleNumber)
	}
	if p.ScaleNumber > 1 && !(p.ScaleGap > 0) {
		return Resolved{}, invalid("incompatible flag configuration: scale_gap must be greater than 0 or scale_number = 1")
	}
	if p.ScaleNumber > 1 && 1-float64(p.ScaleNumber-1)*p.ScaleGap <= 0 {
		return Resolved{}, invalid("scale_gap %v too large for scale_number %d (smallest scale must be > 0)", p.ScaleGap, p.ScaleNumber)
	}
	if p.NumGPUStart < 0 {
		return Resolved{}, invalid("num_gpu_start must be >= 0, got %d", p.NumGPUStart)
	}
	if p.ModelFolder == "" {
		return Resolved{}, invalid("model_folder is required")
	}

	model, err := types.ParsePoseModel(p.ModelPose)
	if err != nil {
		return Resolved{}, invalid("%v", err)
	}

	netSize, err := ParseResolution(p.NetResolution)
	if err != nil {
		return Resolved{}, invalid("net_resolution: %v", err)
	}
	if netSize.X <= 0 || netSize.Y <= 0 {
		return Resolved{}, invalid("net_resolution must be positive, got %s", p.NetResolution)
	}
	if netSize.X%16 != 0 || netSize.Y%16 != 0 {
		return Resolved{}, invalid("net_resolution must be multiples of 16, got %s", p.NetResolution)
	}

	outputSize, err := ParseResolution(p.Resolution)
	if err != nil {
		return Resolved{}, invalid("resolution: %v", err)
	}
	keepInput := outputSize.X == -1 && outputSize.Y == -1
	if !keepInput && (outputSize.X <= 0 || outputSize.Y <= 0) {
		return Resolved{}, invalid("resolution must be positive or -1x-1, got %s", p.Resolution)
	}

	// Camera
	switch cfg.Camera.Source {
	case "mqtt":
		if cfg.Camera.Topic == "" {
			return Resolved{}, invalid("camera_topic is required for the mqtt source")
		}
	case "rtsp":
		if cfg.Camera.RTSPURL == "" {
			return Resolved{}, invalid("camera.rtsp_url is required for the rtsp source")
		}
		if cfg.Camera.Width <= 0 || cfg.Camera.Height <= 0 {
			return Resolved{}, invalid("camera.width and camera.height must be > 0 for the rtsp source")
		}
	case "synthetic":
		if cfg.Camera.Width <= 0 || cfg.Camera.Height <= 0 {
			return Resolved{}, invalid("camera.width and camera.height must be > 0 for the synthetic source")
		}
	default:
		return Resolved{}, invalid("unknown camera.source %q (must be mqtt, rtsp or synthetic)", cfg.Camera.Source)
	}
	if cfg.Camera.Source != "mqtt" && cfg.Camera.FPS <= 0 {
		return Resolved{}, invalid("camera.fps must be > 0")
	}

	// Engine
	switch cfg.Engine.Kind {
	case "synthetic":
	case "process":
		if cfg.Engine.Command == "" {
			return Resolved{}, invalid("engine.command is required for the process engine")
		}
	default:
		return Resolved{}, invalid("unknown engine.kind %q (must be synthetic or process)", cfg.Engine.Kind)
	}

	// MQTT
	if cfg.Camera.Source == "mqtt" && cfg.MQTT.Broker == "" {
		return Resolved{}, invalid("mqtt.broker is required for the mqtt source")
	}
	if cfg.MQTT.Broker != "" {
		if cfg.MQTT.Topics.Image == "" || cfg.MQTT.Topics.Keypoints == "" {
			return Resolved{}, invalid("mqtt.topics.image and mqtt.topics.keypoints are required")
		}
		for channel, qos := range cfg.MQTT.QoS {
			if qos > 2 {
				return Resolved{}, invalid("mqtt.qos.%s must be 0, 1 or 2, got %d", channel, qos)
			}
		}
	}

	if cfg.Health.PreviewQuality < 0 || cfg.Health.PreviewQuality > 100 {
		return Resolved{}, invalid("health.preview_quality must be in [0,100]")
	}

	return Resolved{
		NetSize:    netSize,
		OutputSize: outputSize,
		Model:      model,
	}, nil
}

// ParseResolution parses a "WIDTHxHEIGHT" string such as "656x368" or "-1x-1"
func ParseResolution(s string) (image.Point, error) {
	parts := strings.Split(strings.TrimSpace(s), "x")
	if len(parts) != 2 {
		return image.Point{}, fmt.Errorf("malformed resolution %q (expected WIDTHxHEIGHT)", s)
	}

	w, err := strconv.Atoi(parts[0])
	if err != nil {
		return image.Point{}, fmt.Errorf("malformed resolution width %q: %w", parts[0], err)
	}
	h, err := strconv.Atoi(parts[1])
	if err != nil {
		return image.Point{}, fmt.Errorf("malformed resolution height %q: %w", parts[1], err)
	}

	return image.Pt(w, h), nil
}

// inUnitRange reports whether v is in [0,1]; NaN is not
func inUnitRange(v float64) bool {
	return v >= 0 && v <= 1
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

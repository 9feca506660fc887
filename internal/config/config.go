package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete node configuration
type Config struct {
	InstanceID       string        `yaml:"instance_id"`
	LoggingLevel     int           `yaml:"logging_level"`      // 0 logs everything, 255 nothing
	PollInterval     time.Duration `yaml:"poll_interval"`      // idle sleep when no frame is pending
	ShutdownTimeoutS int           `yaml:"shutdown_timeout_s"` // graceful shutdown timeout in seconds (default: 5)
	Camera           CameraConfig  `yaml:"camera"`
	Pose             PoseConfig    `yaml:"pose"`
	Engine           EngineConfig  `yaml:"engine"`
	MQTT             MQTTConfig    `yaml:"mqtt"`
	Health           HealthConfig  `yaml:"health"`
}

// CameraConfig contains frame source settings
type CameraConfig struct {
	Source  string  `yaml:"source"`       // mqtt, rtsp, synthetic
	Topic   string  `yaml:"camera_topic"` // image topic for the mqtt source
	RTSPURL string  `yaml:"rtsp_url"`
	Width   int     `yaml:"width"` // rtsp/synthetic capture size
	Height  int     `yaml:"height"`
	FPS     float64 `yaml:"fps"`
}

// PoseConfig contains pose estimation and rendering settings
type PoseConfig struct {
	ModelFolder     string  `yaml:"model_folder"`
	ModelPose       string  `yaml:"model_pose"`     // COCO, MPI, MPI_4_layers
	NetResolution   string  `yaml:"net_resolution"` // multiples of 16, e.g. 656x368
	Resolution      string  `yaml:"resolution"`     // output size, -1x-1 keeps input size
	NumGPUStart     int     `yaml:"num_gpu_start"`
	ScaleGap        float64 `yaml:"scale_gap"`
	ScaleNumber     int     `yaml:"scale_number"`
	DisableBlending bool    `yaml:"disable_blending"`
	RenderThreshold float64 `yaml:"render_threshold"`
	AlphaPose       float64 `yaml:"alpha_pose"`
}

// EngineConfig selects the estimation engine
type EngineConfig struct {
	Kind    string   `yaml:"kind"`    // synthetic, process
	Command string   `yaml:"command"` // worker executable for kind=process
	Args    []string `yaml:"args"`
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Broker   string          `yaml:"broker"`
	ClientID string          `yaml:"client_id"` // generated when empty
	Username string          `yaml:"username"`
	Password string          `yaml:"password"`
	Topics   MQTTTopics      `yaml:"topics"`
	QoS      map[string]byte `yaml:"qos"`
}

// MQTTTopics contains output and control topics
type MQTTTopics struct {
	Image     string `yaml:"image"`
	Keypoints string `yaml:"keypoints"`
	Control   string `yaml:"control"`
	Status    string `yaml:"status"`
}

// HealthConfig contains the HTTP health/preview server settings
type HealthConfig struct {
	Addr           string `yaml:"addr"` // empty disables the server
	Preview        bool   `yaml:"preview"`
	PreviewQuality int    `yaml:"preview_quality"`
}

// Default returns the configuration used when no file or flag overrides a value.
func Default() *Config {
	return &Config{
		InstanceID:       "orion-pose",
		LoggingLevel:     3,
		PollInterval:     time.Millisecond,
		ShutdownTimeoutS: 5,
		Camera: CameraConfig{
			Source: "synthetic",
			Topic:  "/camera/rgb/image_raw",
			Width:  1280,
			Height: 720,
			FPS:    30,
		},
		Pose: PoseConfig{
			ModelFolder:     "models/",
			ModelPose:       "COCO",
			NetResolution:   "656x368",
			Resolution:      "1280x720",
			NumGPUStart:     0,
			ScaleGap:        0.3,
			ScaleNumber:     1,
			DisableBlending: false,
			RenderThreshold: 0.05,
			AlphaPose:       0.6,
		},
		Engine: EngineConfig{
			Kind: "synthetic",
		},
		MQTT: MQTTConfig{
			Topics: MQTTTopics{
				Image:     "camera_with_pose/image",
				Keypoints: "camera_with_pose/keypoints",
				Control:   "camera_with_pose/control",
				Status:    "camera_with_pose/status",
			},
			QoS: map[string]byte{
				"camera":    0,
				"image":     0,
				"keypoints": 0,
				"control":   1,
				"status":    0,
			},
		},
		Health: HealthConfig{
			Addr:           ":8080",
			Preview:        true,
			PreviewQuality: 70,
		},
	}
}

// Load reads a YAML configuration file on top of Default and validates it
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ShutdownTimeout returns the configured graceful shutdown timeout
func (c *Config) ShutdownTimeout() time.Duration {
	timeout := time.Duration(c.ShutdownTimeoutS) * time.Second
	if timeout <= 0 {
		return 5 * time.Second
	}
	return timeout
}

// QoSFor returns the QoS level for a channel name
func (c *Config) QoSFor(channel string) byte {
	if qos, ok := c.MQTT.QoS[channel]; ok {
		return qos
	}
	return 0
}

// UsesMQTT reports whether any component needs a broker connection
func (c *Config) UsesMQTT() bool {
	return c.Camera.Source == "mqtt" || c.MQTT.Broker != ""
}

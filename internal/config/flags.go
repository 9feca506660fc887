package config

import (
	"flag"
	"log/slog"
)

// Overrides holds command-line values that take precedence over the file.
// Only flags explicitly set on the command line are applied.
type Overrides struct {
	fs *flag.FlagSet

	loggingLevel    *int
	cameraTopic     *string
	modelFolder     *string
	modelPose       *string
	netResolution   *string
	resolution      *string
	numGPUStart     *int
	scaleGap        *float64
	scaleNumber     *int
	disableBlending *bool
	renderThreshold *float64
	alphaPose       *float64
}

// RegisterFlags defines the pose flags on fs using Default() values for help output
func RegisterFlags(fs *flag.FlagSet) *Overrides {
	d := Default()
	return &Overrides{
		fs:              fs,
		loggingLevel:    fs.Int("logging_level", d.LoggingLevel, "The logging level. Integer in the range [0, 255]. 0 will output any log() message, while 255 will not output any."),
		cameraTopic:     fs.String("camera_topic", d.Camera.Topic, "Image topic that the node will process."),
		modelFolder:     fs.String("model_folder", d.Pose.ModelFolder, "Folder where the pose models (COCO and MPI) are located."),
		modelPose:       fs.String("model_pose", d.Pose.ModelPose, "Model to be used (e.g. COCO, MPI, MPI_4_layers)."),
		netResolution:   fs.String("net_resolution", d.Pose.NetResolution, "Multiples of 16. Net input resolution."),
		resolution:      fs.String("resolution", d.Pose.Resolution, "The image resolution (display). Use \"-1x-1\" to force the input image resolution."),
		numGPUStart:     fs.Int("num_gpu_start", d.Pose.NumGPUStart, "GPU device start number."),
		scaleGap:        fs.Float64("scale_gap", d.Pose.ScaleGap, "Scale gap between scales. No effect unless scale_number > 1."),
		scaleNumber:     fs.Int("scale_number", d.Pose.ScaleNumber, "Number of scales to average."),
		disableBlending: fs.Bool("disable_blending", d.Pose.DisableBlending, "If blending is enabled, it will merge the results with the original frame."),
		renderThreshold: fs.Float64("render_threshold", d.Pose.RenderThreshold, "Only estimated keypoints whose score confidences are higher than this threshold will be rendered."),
		alphaPose:       fs.Float64("alpha_pose", d.Pose.AlphaPose, "Blending factor (range 0-1) for the body part rendering."),
	}
}

// Apply copies every explicitly set flag into cfg
func (o *Overrides) Apply(cfg *Config) {
	o.fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "logging_level":
			cfg.LoggingLevel = *o.loggingLevel
		case "camera_topic":
			cfg.Camera.Topic = *o.cameraTopic
		case "model_folder":
			cfg.Pose.ModelFolder = *o.modelFolder
		case "model_pose":
			cfg.Pose.ModelPose = *o.modelPose
		case "net_resolution":
			cfg.Pose.NetResolution = *o.netResolution
		case "resolution":
			cfg.Pose.Resolution = *o.resolution
		case "num_gpu_start":
			cfg.Pose.NumGPUStart = *o.numGPUStart
		case "scale_gap":
			cfg.Pose.ScaleGap = *o.scaleGap
		case "scale_number":
			cfg.Pose.ScaleNumber = *o.scaleNumber
		case "disable_blending":
			cfg.Pose.DisableBlending = *o.disableBlending
		case "render_threshold":
			cfg.Pose.RenderThreshold = *o.renderThreshold
		case "alpha_pose":
			cfg.Pose.AlphaPose = *o.alphaPose
		default:
			return
		}
		slog.Debug("config override from flag", "flag", f.Name, "value", f.Value.String())
	})
}

// LevelSilent is above every level slog emits.
const LevelSilent = slog.Level(1 << 10)

// LogLevel maps logging_level (0 verbose .. 255 silent) to a slog level
func LogLevel(loggingLevel int) slog.Level {
	switch {
	case loggingLevel <= 1:
		return slog.LevelDebug
	case loggingLevel <= 3:
		return slog.LevelInfo
	case loggingLevel == 4:
		return slog.LevelWarn
	case loggingLevel < 255:
		return slog.LevelError
	default:
		return LevelSilent
	}
}

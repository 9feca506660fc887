package engine

import (
	"fmt"

	"github.com/care/orion-pose/internal/config"
	"github.com/care/orion-pose/internal/render"
)

// New builds the engine selected by cfg.Engine.Kind.
func New(cfg *config.Config, resolved config.Resolved) (Engine, error) {
	renderer, err := render.NewSkeleton(resolved.Model, render.Options{
		Threshold: cfg.Pose.RenderThreshold,
		Blend:     !cfg.Pose.DisableBlending,
		Alpha:     cfg.Pose.AlphaPose,
	})
	if err != nil {
		return nil, err
	}

	switch cfg.Engine.Kind {
	case "synthetic":
		return NewSynthetic(SyntheticConfig{
			Model:    resolved.Model,
			People:   1,
			Renderer: renderer,
		})
	case "process":
		return NewProcess(ProcessConfig{
			Command:       cfg.Engine.Command,
			Args:          cfg.Engine.Args,
			Model:         resolved.Model,
			ModelFolder:   cfg.Pose.ModelFolder,
			NumGPUStart:   cfg.Pose.NumGPUStart,
			NetResolution: resolved.NetSize,
			ScaleNumber:   cfg.Pose.ScaleNumber,
			ScaleGap:      cfg.Pose.ScaleGap,
			Renderer:      renderer,
		})
	default:
		return nil, fmt.Errorf("%w: unknown engine kind %q", config.ErrInvalid, cfg.Engine.Kind)
	}
}

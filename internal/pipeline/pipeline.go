// Package pipeline turns one frame into one analysis result: format for
// inference, run the engine, format for output, render, lay out for publish.
package pipeline

import (
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/care/orion-pose/internal/config"
	"github.com/care/orion-pose/internal/engine"
	"github.com/care/orion-pose/internal/types"
)

// ErrInvalidFrame is returned for frames whose buffer does not match their
// geometry or encoding. The frame is skipped; it is not an engine failure.
var ErrInvalidFrame = errors.New("invalid frame")

// Config contains the immutable pipeline settings
type Config struct {
	NetSize     image.Point
	OutputSize  image.Point // (-1,-1) keeps the input frame size
	ScaleNumber int
	ScaleGap    float64
	Model       types.PoseModel
}

// ConfigFrom derives pipeline settings from a validated node configuration.
func ConfigFrom(cfg *config.Config, resolved config.Resolved) Config {
	return Config{
		NetSize:     resolved.NetSize,
		OutputSize:  resolved.OutputSize,
		ScaleNumber: cfg.Pose.ScaleNumber,
		ScaleGap:    cfg.Pose.ScaleGap,
		Model:       resolved.Model,
	}
}

// Pipeline runs the analysis stages for one frame at a time.
// It is owned by the consumer goroutine and is not safe for concurrent use.
type Pipeline struct {
	cfg    Config
	input  *InputFormatter
	output *OutputFormatter
	engine engine.Engine
}

// New creates a pipeline around an initialized engine
func New(cfg Config, eng engine.Engine) (*Pipeline, error) {
	if eng == nil {
		return nil, fmt.Errorf("pipeline: engine is required")
	}
	in, err := NewInputFormatter(cfg.NetSize, cfg.ScaleNumber, cfg.ScaleGap)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	return &Pipeline{
		cfg:    cfg,
		input:  in,
		output: NewOutputFormatter(cfg.OutputSize),
		engine: eng,
	}, nil
}

// Process analyzes frame.
//
// Algorithm:
//  1. Format frame for the network (one tensor per scale + ratios)
//  2. Format frame for output (canvas at output resolution)
//  3. Forward pass, then read keypoints
//  4. Render keypoints onto the canvas
//  5. Lay the canvas out as bgr8
//
// The result carries frame.Seq on both the image and the keypoints.
// Any engine error is returned as-is (wrapped); callers treat it as fatal.
func (p *Pipeline) Process(frame types.Frame) (types.AnalysisResult, error) {
	start := time.Now()

	if frame.Encoding != types.EncodingBGR8 || !frame.Valid() {
		return types.AnalysisResult{}, fmt.Errorf("%w: seq=%d %dx%d encoding=%q bytes=%d",
			ErrInvalidFrame, frame.Seq, frame.Width, frame.Height, frame.Encoding, len(frame.Data))
	}

	img := frameImage(frame)

	netInput, ratios, err := p.input.Format(img)
	if err != nil {
		return types.AnalysisResult{}, fmt.Errorf("format input: %w", err)
	}
	canvas := p.output.Format(img)

	if err := p.engine.ForwardPass(netInput, image.Pt(frame.Width, frame.Height), ratios); err != nil {
		return types.AnalysisResult{}, fmt.Errorf("engine forward pass (seq=%d): %w", frame.Seq, err)
	}

	keypoints := types.NewKeypointSet(frame.Seq, p.cfg.Model, p.engine.Keypoints())

	if err := p.engine.Render(canvas, keypoints); err != nil {
		return types.AnalysisResult{}, fmt.Errorf("engine render (seq=%d): %w", frame.Seq, err)
	}

	size := canvas.Size()
	return types.AnalysisResult{
		Seq:       frame.Seq,
		Timestamp: frame.Timestamp,
		TraceID:   frame.TraceID,
		Image: types.Image{
			Seq:      frame.Seq,
			Width:    size.X,
			Height:   size.Y,
			Encoding: types.EncodingBGR8,
			Data:     canvas.BGR(),
		},
		Keypoints: keypoints,
		Latency:   time.Since(start),
	}, nil
}

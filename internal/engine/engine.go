// Package engine defines the pose estimation engine contract and its
// implementations: an in-process synthetic engine and an external worker
// process speaking length-prefixed msgpack.
package engine

import (
	"context"
	"errors"
	"image"

	"github.com/care/orion-pose/internal/render"
	"github.com/care/orion-pose/internal/types"
)

// ErrNotReady is returned when an engine is used before Initialize succeeded.
var ErrNotReady = errors.New("engine not initialized")

// Tensor is one network input in planar CHW layout (B, G, R planes),
// values normalized to px/256 - 0.5.
type Tensor struct {
	Width  int
	Height int
	Data   []float32
}

// NetInput holds one tensor per scale, largest first.
type NetInput struct {
	Tensors []Tensor
}

// Engine is the heavy, synchronous estimation stage.
//
// Calls happen from a single goroutine in the order
// ForwardPass -> Keypoints -> Render for every frame.
type Engine interface {
	// Initialize loads models and must succeed before any other call.
	Initialize(ctx context.Context) error
	// ForwardPass runs the network over every scale of input.
	// original is the source frame size; scaleRatios maps each tensor
	// back to it.
	ForwardPass(input NetInput, original image.Point, scaleRatios []float64) error
	// Keypoints returns the detections of the last forward pass in source
	// frame pixels.
	Keypoints() []types.Pose
	// Render draws kp onto canvas in place.
	Render(canvas *render.Canvas, kp types.KeypointSet) error
	// Close releases the engine.
	Close() error
}

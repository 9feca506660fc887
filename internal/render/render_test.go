package render

import (
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/care/orion-pose/internal/types"
)

// armPose returns a COCO pose with only Neck (1) and RShoulder (2) scored.
func armPose(neckScore, shoulderScore float32) types.Pose {
	pose := make(types.Pose, types.ModelCOCO.Parts())
	pose[1] = types.Keypoint{X: 500, Y: 200, Score: neckScore}
	pose[2] = types.Keypoint{X: 300, Y: 200, Score: shoulderScore}
	return pose
}

func rgba(c *Canvas, x, y int) color.RGBA {
	return c.Image.RGBAAt(x, y)
}

func TestNewSkeletonValidates(t *testing.T) {
	_, err := NewSkeleton(types.ModelCOCO, Options{Threshold: 1.5, Alpha: 0.5})
	assert.Error(t, err)
	_, err = NewSkeleton(types.ModelCOCO, Options{Threshold: 0.1, Alpha: -1})
	assert.Error(t, err)
	_, err = NewSkeleton(types.ModelCOCO, Options{Threshold: math.NaN(), Alpha: 0.5})
	assert.Error(t, err)
	_, err = NewSkeleton(types.ModelCOCO, Options{Threshold: 0.1, Alpha: math.NaN()})
	assert.Error(t, err)
}

func TestRenderDrawsLimb(t *testing.T) {
	s, err := NewSkeleton(types.ModelCOCO, Options{Threshold: 0.05, Blend: true, Alpha: 1})
	require.NoError(t, err)

	canvas := NewCanvas(1000, 1000, 1)
	kp := types.NewKeypointSet(1, types.ModelCOCO, []types.Pose{armPose(0.9, 0.9)})
	require.NoError(t, s.Render(canvas, kp))

	// pair {1,2} is the first limb and uses palette[0]
	mid := rgba(canvas, 400, 200)
	assert.InDelta(t, int(palette[0].R), int(mid.R), 1)
	assert.InDelta(t, int(palette[0].G), int(mid.G), 1)
	assert.InDelta(t, int(palette[0].B), int(mid.B), 1)

	// far away pixel untouched
	assert.Equal(t, color.RGBA{A: 255}, rgba(canvas, 900, 900))
}

func TestRenderThreshold(t *testing.T) {
	s, err := NewSkeleton(types.ModelCOCO, Options{Threshold: 0.5, Blend: true, Alpha: 1})
	require.NoError(t, err)

	canvas := NewCanvas(1000, 1000, 1)
	kp := types.NewKeypointSet(1, types.ModelCOCO, []types.Pose{armPose(0.9, 0.3)})
	require.NoError(t, s.Render(canvas, kp))

	assert.Equal(t, color.RGBA{A: 255}, rgba(canvas, 400, 200), "limb with a low-score end must not be drawn")
	assert.Equal(t, color.RGBA{A: 255}, rgba(canvas, 300, 200), "low-score joint must not be drawn")
	assert.NotEqual(t, color.RGBA{A: 255}, rgba(canvas, 500, 200), "neck joint is above threshold")
}

func TestRenderAlpha(t *testing.T) {
	s, err := NewSkeleton(types.ModelCOCO, Options{Threshold: 0.05, Blend: true, Alpha: 0.5})
	require.NoError(t, err)

	canvas := NewCanvas(1000, 1000, 1)
	kp := types.NewKeypointSet(1, types.ModelCOCO, []types.Pose{armPose(0.9, 0.9)})
	require.NoError(t, s.Render(canvas, kp))

	mid := rgba(canvas, 400, 200)
	assert.InDelta(t, 128, int(mid.R), 2)
	assert.Equal(t, uint8(0), mid.G)
}

func TestRenderWithoutBlendingClears(t *testing.T) {
	s, err := NewSkeleton(types.ModelCOCO, Options{Threshold: 0.05, Blend: false, Alpha: 0.6})
	require.NoError(t, err)

	canvas := NewCanvas(64, 64, 1)
	canvas.Clear(color.RGBA{R: 200, G: 200, B: 200, A: 255})

	require.NoError(t, s.Render(canvas, types.NewKeypointSet(1, types.ModelCOCO, nil)))
	assert.Equal(t, color.RGBA{A: 255}, rgba(canvas, 10, 10))
}

func TestRenderProjectsOntoCanvas(t *testing.T) {
	s, err := NewSkeleton(types.ModelCOCO, Options{Threshold: 0.05, Blend: true, Alpha: 1})
	require.NoError(t, err)

	canvas := NewCanvas(1000, 1000, 0.5)
	kp := types.NewKeypointSet(1, types.ModelCOCO, []types.Pose{armPose(0.9, 0.9)})
	require.NoError(t, s.Render(canvas, kp))

	assert.NotEqual(t, color.RGBA{A: 255}, rgba(canvas, 200, 100))
	assert.Equal(t, color.RGBA{A: 255}, rgba(canvas, 400, 200))
}

func TestRenderClipsOutOfBounds(t *testing.T) {
	s, err := NewSkeleton(types.ModelCOCO, Options{Threshold: 0.05, Blend: true, Alpha: 1})
	require.NoError(t, err)

	pose := make(types.Pose, types.ModelCOCO.Parts())
	pose[1] = types.Keypoint{X: -50, Y: 10, Score: 0.9}
	pose[2] = types.Keypoint{X: 2000, Y: 10, Score: 0.9}

	canvas := NewCanvas(100, 100, 1)
	assert.NotPanics(t, func() {
		_ = s.Render(canvas, types.NewKeypointSet(1, types.ModelCOCO, []types.Pose{pose}))
	})
}

func TestCanvasBGR(t *testing.T) {
	canvas := NewCanvas(2, 1, 1)
	canvas.Image.SetRGBA(0, 0, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	canvas.Image.SetRGBA(1, 0, color.RGBA{R: 40, G: 50, B: 60, A: 255})

	assert.Equal(t, []byte{30, 20, 10, 60, 50, 40}, canvas.BGR())
}

// Package render draws pose skeletons onto an output canvas.
package render

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/vector"

	"github.com/care/orion-pose/internal/types"
)

// Options controls skeleton rendering.
type Options struct {
	// Threshold is the minimum score a keypoint needs to be drawn
	Threshold float64
	// Blend keeps the frame under the skeleton; otherwise the canvas is cleared to black
	Blend bool
	// Alpha is the opacity of the skeleton, in [0,1]
	Alpha float64
}

// Skeleton renders limbs and joints for one pose model.
type Skeleton struct {
	model types.PoseModel
	opts  Options
	r     *vector.Rasterizer
}

// limb colors, cycled by pair index
var palette = []color.RGBA{
	{255, 0, 85, 255}, {255, 0, 0, 255}, {255, 85, 0, 255}, {255, 170, 0, 255},
	{255, 255, 0, 255}, {170, 255, 0, 255}, {85, 255, 0, 255}, {0, 255, 0, 255},
	{0, 255, 85, 255}, {0, 255, 170, 255}, {0, 255, 255, 255}, {0, 170, 255, 255},
	{0, 85, 255, 255}, {0, 0, 255, 255}, {255, 0, 170, 255}, {170, 0, 255, 255},
	{255, 0, 255, 255}, {85, 0, 255, 255},
}

// NewSkeleton creates a renderer for model.
func NewSkeleton(model types.PoseModel, opts Options) (*Skeleton, error) {
	if !(opts.Threshold >= 0 && opts.Threshold <= 1) {
		return nil, fmt.Errorf("render threshold %v outside [0,1]", opts.Threshold)
	}
	if !(opts.Alpha >= 0 && opts.Alpha <= 1) {
		return nil, fmt.Errorf("render alpha %v outside [0,1]", opts.Alpha)
	}
	return &Skeleton{model: model, opts: opts, r: vector.NewRasterizer(1, 1)}, nil
}

// Render draws every pose in kp onto canvas in place.
// Not safe for concurrent use; the rasterizer is reused between calls.
func (s *Skeleton) Render(canvas *Canvas, kp types.KeypointSet) error {
	if canvas == nil || canvas.Image == nil {
		return fmt.Errorf("render: nil canvas")
	}
	if !s.opts.Blend {
		canvas.Clear(color.RGBA{A: 255})
	}
	if s.opts.Alpha == 0 {
		return nil
	}

	size := canvas.Size()
	thickness := math.Max(1, math.Round(math.Sqrt(float64(size.X*size.Y))*0.004))
	radius := thickness * 1.5
	threshold := float32(s.opts.Threshold)

	for _, pose := range kp.Poses {
		for i, pair := range s.model.Pairs() {
			if pair[0] >= len(pose) || pair[1] >= len(pose) {
				continue
			}
			a, b := pose[pair[0]], pose[pair[1]]
			if a.Score <= threshold || b.Score <= threshold {
				continue
			}
			ax, ay := canvas.Project(a.X, a.Y)
			bx, by := canvas.Project(b.X, b.Y)
			s.fill(canvas.Image, limb(ax, ay, bx, by, float32(thickness)/2), s.color(i))
		}
		for i, p := range pose {
			if p.Score <= threshold {
				continue
			}
			x, y := canvas.Project(p.X, p.Y)
			s.fill(canvas.Image, disc(x, y, float32(radius)), s.color(i))
		}
	}
	return nil
}

func (s *Skeleton) color(i int) color.NRGBA {
	c := palette[i%len(palette)]
	return color.NRGBA{R: c.R, G: c.G, B: c.B, A: uint8(math.Round(s.opts.Alpha * 255))}
}

// fill rasterizes a convex polygon over dst, clipped to dst's bounds.
func (s *Skeleton) fill(dst *image.RGBA, poly [][2]float32, col color.NRGBA) {
	if len(poly) < 3 {
		return
	}

	minX, minY := poly[0][0], poly[0][1]
	maxX, maxY := minX, minY
	for _, p := range poly[1:] {
		minX = min(minX, p[0])
		minY = min(minY, p[1])
		maxX = max(maxX, p[0])
		maxY = max(maxY, p[1])
	}
	box := image.Rect(
		int(math.Floor(float64(minX))), int(math.Floor(float64(minY))),
		int(math.Ceil(float64(maxX))), int(math.Ceil(float64(maxY))),
	).Intersect(dst.Bounds())
	if box.Empty() {
		return
	}

	w, h := float32(box.Dx()), float32(box.Dy())
	clamp := func(p [2]float32) (float32, float32) {
		x := min(max(p[0]-float32(box.Min.X), 0), w)
		y := min(max(p[1]-float32(box.Min.Y), 0), h)
		return x, y
	}

	s.r.Reset(box.Dx(), box.Dy())
	s.r.MoveTo(clamp(poly[0]))
	for _, p := range poly[1:] {
		s.r.LineTo(clamp(p))
	}
	s.r.ClosePath()
	s.r.Draw(dst, box, image.NewUniform(col), image.Point{})
}

// limb returns the quad covering segment a-b with the given half width.
func limb(ax, ay, bx, by, half float32) [][2]float32 {
	dx, dy := bx-ax, by-ay
	length := float32(math.Hypot(float64(dx), float64(dy)))
	if length == 0 {
		return nil
	}
	nx, ny := -dy/length*half, dx/length*half
	return [][2]float32{
		{ax + nx, ay + ny},
		{bx + nx, by + ny},
		{bx - nx, by - ny},
		{ax - nx, ay - ny},
	}
}

// disc approximates a circle with a 16-gon.
func disc(cx, cy, radius float32) [][2]float32 {
	const segments = 16
	pts := make([][2]float32, segments)
	for i := range pts {
		theta := 2 * math.Pi * float64(i) / segments
		pts[i] = [2]float32{
			cx + radius*float32(math.Cos(theta)),
			cy + radius*float32(math.Sin(theta)),
		}
	}
	return pts
}

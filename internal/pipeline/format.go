package pipeline

import (
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"

	"github.com/care/orion-pose/internal/engine"
	"github.com/care/orion-pose/internal/render"
	"github.com/care/orion-pose/internal/types"
)

// frameImage converts a bgr8 frame into an RGBA image for resampling.
func frameImage(f types.Frame) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	src := f.Data
	dst := img.Pix
	for i, j := 0, 0; i+2 < len(src); i, j = i+3, j+4 {
		dst[j] = src[i+2]
		dst[j+1] = src[i+1]
		dst[j+2] = src[i]
		dst[j+3] = 0xff
	}
	return img
}

// InputFormatter turns a frame into per-scale network tensors.
type InputFormatter struct {
	netSize     image.Point
	scaleNumber int
	scaleGap    float64
}

// NewInputFormatter creates a formatter for the given net resolution and scales.
func NewInputFormatter(netSize image.Point, scaleNumber int, scaleGap float64) (*InputFormatter, error) {
	if netSize.X <= 0 || netSize.Y <= 0 {
		return nil, fmt.Errorf("invalid net resolution %v", netSize)
	}
	if scaleNumber < 1 {
		return nil, fmt.Errorf("scale number must be >= 1, got %d", scaleNumber)
	}
	return &InputFormatter{netSize: netSize, scaleNumber: scaleNumber, scaleGap: scaleGap}, nil
}

// ScaleSize returns the network input size for scale i, rounded down to a
// multiple of 16 (minimum 16).
func (f *InputFormatter) ScaleSize(i int) image.Point {
	s := 1 - float64(i)*f.scaleGap
	round := func(v int) int {
		n := int(math.Floor(float64(v)*s/16)) * 16
		return max(n, 16)
	}
	return image.Pt(round(f.netSize.X), round(f.netSize.Y))
}

// Format letterboxes img into every scale and returns the tensors plus the
// input-to-net ratio of each scale.
func (f *InputFormatter) Format(img *image.RGBA) (engine.NetInput, []float64, error) {
	b := img.Bounds()
	if b.Empty() {
		return engine.NetInput{}, nil, fmt.Errorf("input formatter: empty image")
	}

	input := engine.NetInput{Tensors: make([]engine.Tensor, f.scaleNumber)}
	ratios := make([]float64, f.scaleNumber)

	for i := 0; i < f.scaleNumber; i++ {
		size := f.ScaleSize(i)
		ratio := math.Min(float64(size.X)/float64(b.Dx()), float64(size.Y)/float64(b.Dy()))
		scaled := image.Rect(0, 0,
			max(1, int(math.Round(float64(b.Dx())*ratio))),
			max(1, int(math.Round(float64(b.Dy())*ratio))),
		)

		net := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
		draw.BiLinear.Scale(net, scaled, img, b, draw.Src, nil)

		input.Tensors[i] = toTensor(net)
		ratios[i] = ratio
	}

	return input, ratios, nil
}

// toTensor lays an RGBA image out as planar B, G, R float32 planes with
// values px/256 - 0.5. Padding pixels are zero, so they map to -0.5.
func toTensor(img *image.RGBA) engine.Tensor {
	size := img.Bounds().Size()
	plane := size.X * size.Y
	data := make([]float32, 3*plane)
	pix := img.Pix
	for y := 0; y < size.Y; y++ {
		row := pix[y*img.Stride:]
		for x := 0; x < size.X; x++ {
			o := y*size.X + x
			p := row[x*4:]
			data[o] = float32(p[2])/256 - 0.5
			data[plane+o] = float32(p[1])/256 - 0.5
			data[2*plane+o] = float32(p[0])/256 - 0.5
		}
	}
	return engine.Tensor{Width: size.X, Height: size.Y, Data: data}
}

// OutputFormatter resizes a frame onto the output canvas.
type OutputFormatter struct {
	size image.Point // negative keeps the input size
}

// NewOutputFormatter creates a formatter for the output resolution.
// (-1,-1) makes every canvas match its frame.
func NewOutputFormatter(size image.Point) *OutputFormatter {
	return &OutputFormatter{size: size}
}

// Format returns a canvas holding img resized with its aspect ratio preserved.
func (f *OutputFormatter) Format(img *image.RGBA) *render.Canvas {
	b := img.Bounds()
	out := f.size
	if out.X <= 0 || out.Y <= 0 {
		out = b.Size()
	}

	if out == b.Size() {
		canvas := render.NewCanvas(out.X, out.Y, 1)
		copy(canvas.Image.Pix, img.Pix)
		return canvas
	}

	scale := math.Min(float64(out.X)/float64(b.Dx()), float64(out.Y)/float64(b.Dy()))
	canvas := render.NewCanvas(out.X, out.Y, scale)
	dst := image.Rect(0, 0,
		min(out.X, int(math.Round(float64(b.Dx())*scale))),
		min(out.Y, int(math.Round(float64(b.Dy())*scale))),
	)
	draw.BiLinear.Scale(canvas.Image, dst, img, b, draw.Src, nil)
	return canvas
}

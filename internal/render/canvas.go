package render

import (
	"image"
	"image/color"
)

// Canvas is the output-resolution image a frame is rendered onto.
//
// The source frame is resized with its aspect ratio preserved and anchored at
// the top-left corner; Scale maps source frame coordinates onto the canvas.
type Canvas struct {
	Image *image.RGBA
	// Scale is output pixels per input pixel
	Scale float64
}

// NewCanvas allocates an opaque black canvas.
func NewCanvas(width, height int, scale float64) *Canvas {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
	return &Canvas{Image: img, Scale: scale}
}

// Size returns the canvas dimensions.
func (c *Canvas) Size() image.Point {
	return c.Image.Bounds().Size()
}

// Project maps a point in source frame coordinates onto the canvas.
func (c *Canvas) Project(x, y float32) (float32, float32) {
	return x * float32(c.Scale), y * float32(c.Scale)
}

// Clear paints the whole canvas with col.
func (c *Canvas) Clear(col color.RGBA) {
	pix := c.Image.Pix
	for i := 0; i < len(pix); i += 4 {
		pix[i] = col.R
		pix[i+1] = col.G
		pix[i+2] = col.B
		pix[i+3] = col.A
	}
}

// BGR returns the canvas in bgr8 publish layout, row stride width*3.
func (c *Canvas) BGR() []byte {
	size := c.Size()
	out := make([]byte, size.X*size.Y*3)
	src := c.Image.Pix
	stride := c.Image.Stride
	for y := 0; y < size.Y; y++ {
		row := src[y*stride : y*stride+size.X*4]
		dst := out[y*size.X*3:]
		for x := 0; x < size.X; x++ {
			dst[x*3] = row[x*4+2]
			dst[x*3+1] = row[x*4+1]
			dst[x*3+2] = row[x*4]
		}
	}
	return out
}

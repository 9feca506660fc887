package source

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder

	"github.com/care/orion-pose/internal/types"
)

// ImageMessage is the camera message schema (sensor image layout).
type ImageMessage struct {
	Header struct {
		Seq     uint64 `json:"seq"`
		FrameID string `json:"frame_id"`
	} `json:"header"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Encoding string `json:"encoding"`
	Step     int    `json:"step"` // row length in bytes, 0 means packed
	Data     []byte `json:"data"`
}

// Frames larger than this are rejected before any buffer is sized from
// message fields.
const (
	MaxDimension = 1 << 14
	MaxPixels    = 1 << 26
)

var channels = map[string]int{
	"bgr8":  3,
	"rgb8":  3,
	"bgra8": 4,
	"rgba8": 4,
	"mono8": 1,
}

// DecodeMessage parses a JSON camera message into a bgr8 frame.
// Seq, Timestamp and TraceID are left for the caller to assign.
func DecodeMessage(payload []byte) (types.Frame, error) {
	var msg ImageMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return types.Frame{}, fmt.Errorf("failed to parse image message: %w", err)
	}
	return DecodeImage(msg)
}

// DecodeImage converts an image message of any supported encoding to bgr8
func DecodeImage(msg ImageMessage) (types.Frame, error) {
	switch msg.Encoding {
	case "jpeg", "png":
		return decodeCompressed(msg)
	}

	ch, ok := channels[msg.Encoding]
	if !ok {
		return types.Frame{}, fmt.Errorf("unsupported encoding %q", msg.Encoding)
	}
	if err := checkSize(msg.Width, msg.Height); err != nil {
		return types.Frame{}, err
	}

	step := msg.Step
	if step == 0 {
		step = msg.Width * ch
	}
	if step < msg.Width*ch {
		return types.Frame{}, fmt.Errorf("step %d shorter than row (%d bytes)", step, msg.Width*ch)
	}
	if step > len(msg.Data) && msg.Height > 1 {
		return types.Frame{}, fmt.Errorf("step %d longer than image data (%d bytes)", step, len(msg.Data))
	}
	if len(msg.Data) < step*(msg.Height-1)+msg.Width*ch {
		return types.Frame{}, fmt.Errorf("image data %d bytes too short for %dx%d %s", len(msg.Data), msg.Width, msg.Height, msg.Encoding)
	}

	out := make([]byte, msg.Width*msg.Height*3)
	for y := 0; y < msg.Height; y++ {
		row := msg.Data[y*step:]
		dst := out[y*msg.Width*3:]
		for x := 0; x < msg.Width; x++ {
			p := row[x*ch:]
			d := dst[x*3 : x*3+3]
			switch msg.Encoding {
			case "bgr8", "bgra8":
				d[0], d[1], d[2] = p[0], p[1], p[2]
			case "rgb8", "rgba8":
				d[0], d[1], d[2] = p[2], p[1], p[0]
			case "mono8":
				d[0], d[1], d[2] = p[0], p[0], p[0]
			}
		}
	}

	return types.Frame{
		Width:    msg.Width,
		Height:   msg.Height,
		Encoding: types.EncodingBGR8,
		Data:     out,
		Source:   msg.Header.FrameID,
	}, nil
}

// checkSize bounds width and height so that no size derived from them
// can overflow.
func checkSize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid image size %dx%d", width, height)
	}
	if width > MaxDimension || height > MaxDimension || width*height > MaxPixels {
		return fmt.Errorf("image size %dx%d exceeds the %dx%d, %d pixel limit", width, height, MaxDimension, MaxDimension, MaxPixels)
	}
	return nil
}

func decodeCompressed(msg ImageMessage) (types.Frame, error) {
	// the header is read first: decoders allocate the full image up front
	cfg, _, err := image.DecodeConfig(bytes.NewReader(msg.Data))
	if err != nil {
		return types.Frame{}, fmt.Errorf("failed to decode %s header: %w", msg.Encoding, err)
	}
	if err := checkSize(cfg.Width, cfg.Height); err != nil {
		return types.Frame{}, err
	}

	img, _, err := image.Decode(bytes.NewReader(msg.Data))
	if err != nil {
		return types.Frame{}, fmt.Errorf("failed to decode %s image: %w", msg.Encoding, err)
	}

	b := img.Bounds()
	out := make([]byte, b.Dx()*b.Dy()*3)
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			out[i] = byte(bl >> 8)
			out[i+1] = byte(g >> 8)
			out[i+2] = byte(r >> 8)
			i += 3
		}
	}

	return types.Frame{
		Width:    b.Dx(),
		Height:   b.Dy(),
		Encoding: types.EncodingBGR8,
		Data:     out,
		Source:   msg.Header.FrameID,
	}, nil
}

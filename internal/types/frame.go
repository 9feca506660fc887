package types

import "time"

// EncodingBGR8 is the only pixel layout a Frame carries once decoded.
const EncodingBGR8 = "bgr8"

// Frame represents a single decoded camera image.
//
// IMMUTABILITY CONTRACT:
//   - Sources allocate a fresh Data buffer per frame
//   - Nobody modifies Data after the frame is handed to the exchange
//   - The consumer owns the snapshot for one pipeline pass
type Frame struct {
	// Seq is the monotonic sequence number assigned by the source
	Seq uint64
	// Timestamp is when the frame was captured/decoded
	Timestamp time.Time
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Encoding of Data (always EncodingBGR8 after decode)
	Encoding string
	// Data contains the pixel buffer, 3 bytes per pixel, row stride Width*3
	Data []byte
	// Source identifies where the frame came from (topic, rtsp url, "synthetic")
	Source string
	// TraceID is a unique identifier for tracing the frame through the node
	TraceID string
}

// Step returns the row stride in bytes.
func (f Frame) Step() int {
	return f.Width * 3
}

// Valid reports whether the buffer size matches the declared geometry.
func (f Frame) Valid() bool {
	return f.Width > 0 && f.Height > 0 && len(f.Data) == f.Width*f.Height*3
}

// Image is a rendered output image in publish layout (bgr8).
type Image struct {
	Seq      uint64
	Width    int
	Height   int
	Encoding string
	Data     []byte
}

// AnalysisResult pairs one rendered image with the keypoints it was drawn from.
// Both derive from the same source frame and carry its sequence number.
type AnalysisResult struct {
	Seq       uint64
	Timestamp time.Time
	TraceID   string
	Image     Image
	Keypoints KeypointSet
	// Latency is the time spent in the analysis pipeline
	Latency time.Duration
}

// Paired reports whether image and keypoints belong to the same frame.
func (r AnalysisResult) Paired() bool {
	return r.Image.Seq == r.Seq && r.Keypoints.Seq == r.Seq
}

package publisher

import (
	"fmt"
	"time"

	"github.com/care/orion-pose/internal/types"
)

// Header is shared by both messages of one result
type Header struct {
	Seq     uint64    `json:"seq"`
	Stamp   time.Time `json:"stamp"`
	FrameID string    `json:"frame_id"`
	TraceID string    `json:"trace_id,omitempty"`
}

// ImageMessage carries the rendered frame
type ImageMessage struct {
	Header   Header `json:"header"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Encoding string `json:"encoding"`
	Step     int    `json:"step"`
	Data     []byte `json:"data"`
}

// KeypointsMessage carries the flattened keypoints of the primary person
type KeypointsMessage struct {
	Header    Header    `json:"header"`
	Model     string    `json:"model"`
	People    int       `json:"people"`
	Keypoints []float32 `json:"keypoints"`
	BodyParts []string  `json:"body_parts"`
}

// BuildImageMessage validates and packages the rendered image of res
func BuildImageMessage(res types.AnalysisResult, frameID string) (ImageMessage, error) {
	img := res.Image
	if img.Seq != res.Seq {
		return ImageMessage{}, fmt.Errorf("image seq %d does not match result seq %d", img.Seq, res.Seq)
	}
	if img.Encoding != types.EncodingBGR8 {
		return ImageMessage{}, fmt.Errorf("unsupported image encoding %q", img.Encoding)
	}
	if img.Width <= 0 || img.Height <= 0 || len(img.Data) != img.Width*img.Height*3 {
		return ImageMessage{}, fmt.Errorf("image buffer %d bytes does not match %dx%d bgr8", len(img.Data), img.Width, img.Height)
	}

	return ImageMessage{
		Header:   header(res, frameID),
		Width:    img.Width,
		Height:   img.Height,
		Encoding: img.Encoding,
		Step:     img.Width * 3,
		Data:     img.Data,
	}, nil
}

// BuildKeypointsMessage validates and packages the keypoints of res
func BuildKeypointsMessage(res types.AnalysisResult, frameID string) (KeypointsMessage, error) {
	kp := res.Keypoints
	if kp.Seq != res.Seq {
		return KeypointsMessage{}, fmt.Errorf("keypoints seq %d does not match result seq %d", kp.Seq, res.Seq)
	}
	if _, err := types.ParsePoseModel(kp.Model.String()); err != nil {
		return KeypointsMessage{}, err
	}
	if len(kp.Values) != kp.Model.Length() {
		return KeypointsMessage{}, fmt.Errorf("keypoints length %d, model %s expects %d", len(kp.Values), kp.Model, kp.Model.Length())
	}

	return KeypointsMessage{
		Header:    header(res, frameID),
		Model:     kp.Model.String(),
		People:    kp.People,
		Keypoints: kp.Values,
		BodyParts: kp.Model.BodyParts(),
	}, nil
}

func header(res types.AnalysisResult, frameID string) Header {
	return Header{
		Seq:     res.Seq,
		Stamp:   res.Timestamp,
		FrameID: frameID,
		TraceID: res.TraceID,
	}
}

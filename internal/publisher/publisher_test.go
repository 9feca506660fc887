package publisher

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/care/orion-pose/internal/transport"
	"github.com/care/orion-pose/internal/types"
)

var topics = Topics{Image: "camera_with_pose/image", Keypoints: "camera_with_pose/keypoints"}

func result(seq uint64) types.AnalysisResult {
	pose := types.Pose{{X: 10, Y: 20, Score: 0.9}}
	return types.AnalysisResult{
		Seq:       seq,
		Timestamp: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		TraceID:   "trace-1",
		Image: types.Image{
			Seq:      seq,
			Width:    2,
			Height:   2,
			Encoding: types.EncodingBGR8,
			Data:     make([]byte, 12),
		},
		Keypoints: types.NewKeypointSet(seq, types.ModelCOCO, []types.Pose{pose}),
	}
}

func newPublisher(t *testing.T) (*Publisher, *transport.Memory) {
	t.Helper()
	mem := transport.NewMemory()
	p, err := New(mem, topics, "camera")
	require.NoError(t, err)
	return p, mem
}

// TestPublishOrderAndPairing validates image then keypoints, same seq.
func TestPublishOrderAndPairing(t *testing.T) {
	p, mem := newPublisher(t)

	require.NoError(t, p.Publish(result(42)))

	msgs := mem.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, topics.Image, msgs[0].Topic)
	assert.Equal(t, topics.Keypoints, msgs[1].Topic)

	var img ImageMessage
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &img))
	var kp KeypointsMessage
	require.NoError(t, json.Unmarshal(msgs[1].Payload, &kp))

	assert.Equal(t, uint64(42), img.Header.Seq)
	assert.Equal(t, uint64(42), kp.Header.Seq)
	assert.Equal(t, "camera", img.Header.FrameID)
	assert.Equal(t, 6, img.Step)
	assert.Equal(t, "bgr8", img.Encoding)
	assert.Len(t, img.Data, 12)

	assert.Equal(t, "COCO", kp.Model)
	assert.Equal(t, 1, kp.People)
	assert.Len(t, kp.Keypoints, types.ModelCOCO.Length())
	assert.Equal(t, []float32{10, 20, 0.9}, kp.Keypoints[:3])
	assert.Empty(t, cmp.Diff(types.ModelCOCO.BodyParts(), kp.BodyParts))

	assert.Equal(t, Stats{Published: 1}, p.Stats())
}

// TestPublishNothingOnBuildFailure validates a broken result emits nothing.
func TestPublishNothingOnBuildFailure(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*types.AnalysisResult)
	}{
		{"image seq mismatch", func(r *types.AnalysisResult) { r.Image.Seq = 7 }},
		{"keypoints seq mismatch", func(r *types.AnalysisResult) { r.Keypoints.Seq = 7 }},
		{"short image buffer", func(r *types.AnalysisResult) { r.Image.Data = r.Image.Data[:5] }},
		{"wrong encoding", func(r *types.AnalysisResult) { r.Image.Encoding = "rgb8" }},
		{"wrong keypoints length", func(r *types.AnalysisResult) { r.Keypoints.Values = r.Keypoints.Values[:3] }},
		{"unknown model", func(r *types.AnalysisResult) { r.Keypoints.Model = "BODY_25" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, mem := newPublisher(t)
			res := result(1)
			tt.mutate(&res)

			assert.Error(t, p.Publish(res))
			assert.Empty(t, mem.Messages())
			assert.Equal(t, uint64(1), p.Stats().BuildErrors)
			assert.Equal(t, uint64(0), p.Stats().Published)
		})
	}
}

// TestPublishTransportErrorIsCounted validates emission is fire-and-forget:
// a failing image topic does not stop the keypoints message.
func TestPublishTransportErrorIsCounted(t *testing.T) {
	p, mem := newPublisher(t)
	mem.FailTopic(topics.Image, errors.New("broker gone"))

	assert.NoError(t, p.Publish(result(3)))

	msgs := mem.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, topics.Keypoints, msgs[0].Topic)
	assert.Equal(t, uint64(1), p.Stats().EmitErrors)
}

func TestPublishZeroDetections(t *testing.T) {
	p, mem := newPublisher(t)
	res := result(8)
	res.Keypoints = types.NewKeypointSet(8, types.ModelMPI, nil)

	require.NoError(t, p.Publish(res))

	var kp KeypointsMessage
	require.NoError(t, json.Unmarshal(mem.On(topics.Keypoints)[0].Payload, &kp))
	assert.Equal(t, 0, kp.People)
	assert.Len(t, kp.Keypoints, types.ModelMPI.Length())
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, topics, "camera")
	assert.Error(t, err)
	_, err = New(transport.NewMemory(), Topics{Image: "x"}, "camera")
	assert.Error(t, err)
}

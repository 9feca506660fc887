package types

// Keypoint represents a single body part estimate in source frame pixels.
type Keypoint struct {
	X     float32 `json:"x" msgpack:"x"`
	Y     float32 `json:"y" msgpack:"y"`
	Score float32 `json:"score" msgpack:"score"`
}

// Pose is one detected person, indexed by the model's body part order.
type Pose []Keypoint

// KeypointSet holds the keypoints produced for one analyzed frame.
//
// Values is the primary person flattened as x0,y0,s0,x1,y1,s1,... in
// schema order. Its length is always Model.Length(); when nobody is
// detected it is zero-filled and People is 0.
type KeypointSet struct {
	Seq    uint64
	Model  PoseModel
	People int
	Values []float32
	// Poses keeps every detection, used for rendering
	Poses []Pose
}

// NewKeypointSet builds a set for the given model from raw detections.
// Detections are truncated or padded to the model's part count.
func NewKeypointSet(seq uint64, model PoseModel, poses []Pose) KeypointSet {
	parts := model.Parts()

	normalized := make([]Pose, 0, len(poses))
	for _, p := range poses {
		fixed := make(Pose, parts)
		copy(fixed, p)
		normalized = append(normalized, fixed)
	}

	values := make([]float32, model.Length())
	if len(normalized) > 0 {
		for i, kp := range normalized[0] {
			values[i*3] = kp.X
			values[i*3+1] = kp.Y
			values[i*3+2] = kp.Score
		}
	}

	return KeypointSet{
		Seq:    seq,
		Model:  model,
		People: len(normalized),
		Values: values,
		Poses:  normalized,
	}
}

// Part returns the keypoint of the primary person at schema index i.
func (k KeypointSet) Part(i int) Keypoint {
	if i < 0 || i*3+2 >= len(k.Values) {
		return Keypoint{}
	}
	return Keypoint{X: k.Values[i*3], Y: k.Values[i*3+1], Score: k.Values[i*3+2]}
}

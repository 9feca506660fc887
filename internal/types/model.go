package types

import (
	"fmt"
	"strings"
)

// PoseModel identifies the body part schema produced by the engine.
type PoseModel string

const (
	// ModelCOCO is the 18-part COCO body model
	ModelCOCO PoseModel = "COCO"
	// ModelMPI is the 15-part MPI body model
	ModelMPI PoseModel = "MPI"
	// ModelMPI4Layers is MPI with a lighter network, same schema
	ModelMPI4Layers PoseModel = "MPI_4_layers"
)

var cocoParts = []string{
	"Nose", "Neck",
	"RShoulder", "RElbow", "RWrist",
	"LShoulder", "LElbow", "LWrist",
	"RHip", "RKnee", "RAnkle",
	"LHip", "LKnee", "LAnkle",
	"REye", "LEye", "REar", "LEar",
}

// Index 18 ("Bkg") is the background heatmap and never carries a keypoint.
var cocoPairs = [][2]int{
	{1, 2}, {1, 5}, {2, 3}, {3, 4}, {5, 6}, {6, 7},
	{1, 8}, {8, 9}, {9, 10}, {1, 11}, {11, 12}, {12, 13},
	{1, 0}, {0, 14}, {14, 16}, {0, 15}, {15, 17},
}

var mpiParts = []string{
	"Head", "Neck",
	"RShoulder", "RElbow", "RWrist",
	"LShoulder", "LElbow", "LWrist",
	"RHip", "RKnee", "RAnkle",
	"LHip", "LKnee", "LAnkle",
	"Chest",
}

var mpiPairs = [][2]int{
	{0, 1}, {1, 2}, {2, 3}, {3, 4}, {1, 5}, {5, 6}, {6, 7},
	{1, 14}, {14, 8}, {8, 9}, {9, 10}, {14, 11}, {11, 12}, {12, 13},
}

// ParsePoseModel converts a flag/config value to a PoseModel.
func ParsePoseModel(s string) (PoseModel, error) {
	switch strings.TrimSpace(s) {
	case string(ModelCOCO):
		return ModelCOCO, nil
	case string(ModelMPI):
		return ModelMPI, nil
	case string(ModelMPI4Layers):
		return ModelMPI4Layers, nil
	default:
		return "", fmt.Errorf("unknown pose model %q (must be COCO, MPI or MPI_4_layers)", s)
	}
}

// BodyParts returns the part names in index order.
func (m PoseModel) BodyParts() []string {
	switch m {
	case ModelMPI, ModelMPI4Layers:
		return mpiParts
	default:
		return cocoParts
	}
}

// Pairs returns the limb pairs drawn by the renderer.
func (m PoseModel) Pairs() [][2]int {
	switch m {
	case ModelMPI, ModelMPI4Layers:
		return mpiPairs
	default:
		return cocoPairs
	}
}

// Parts returns the number of body parts.
func (m PoseModel) Parts() int {
	return len(m.BodyParts())
}

// Length returns the fixed length of a flattened keypoint sequence (x, y, score per part).
func (m PoseModel) Length() int {
	return m.Parts() * 3
}

func (m PoseModel) String() string {
	return string(m)
}

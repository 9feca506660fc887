package engine

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/care/orion-pose/internal/types"
)

// Worker protocol: every message is a 4-byte big-endian length followed by
// a msgpack map. The worker answers "init" with "ready" or "error" and each
// "forward" with "people" or "error".
const (
	msgInit    = "init"
	msgForward = "forward"
	msgReady   = "ready"
	msgPeople  = "people"
	msgError   = "error"
)

// maxMessageSize bounds a single worker reply.
const maxMessageSize = 64 << 20

type initRequest struct {
	Type          string  `msgpack:"type"`
	ModelFolder   string  `msgpack:"model_folder"`
	ModelPose     string  `msgpack:"model_pose"`
	NumGPUStart   int     `msgpack:"num_gpu_start"`
	NetResolution [2]int  `msgpack:"net_resolution"`
	ScaleNumber   int     `msgpack:"scale_number"`
	ScaleGap      float64 `msgpack:"scale_gap"`
}

type wireTensor struct {
	Width  int    `msgpack:"width"`
	Height int    `msgpack:"height"`
	Data   []byte `msgpack:"data"` // float32 little-endian, CHW
}

type forwardRequest struct {
	Type        string       `msgpack:"type"`
	Width       int          `msgpack:"width"`
	Height      int          `msgpack:"height"`
	ScaleRatios []float64    `msgpack:"scale_ratios"`
	Tensors     []wireTensor `msgpack:"tensors"`
}

type workerResponse struct {
	Type   string       `msgpack:"type"`
	Error  string       `msgpack:"error,omitempty"`
	People []types.Pose `msgpack:"people,omitempty"`
}

// writeMessage encodes v as one length-prefixed msgpack message.
func writeMessage(w io.Writer, v any) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal msgpack message: %w", err)
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("failed to write length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("failed to write msgpack data: %w", err)
	}
	return nil
}

// readMessage decodes one length-prefixed msgpack message into v.
func readMessage(r io.Reader, v any) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return fmt.Errorf("failed to read length prefix: %w", err)
	}

	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxMessageSize {
		return fmt.Errorf("worker message too large: %d bytes", n)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("failed to read msgpack data: %w", err)
	}
	if err := msgpack.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("failed to unmarshal msgpack message: %w", err)
	}
	return nil
}

// encodeTensor packs float32 values little-endian.
func encodeTensor(t Tensor) wireTensor {
	data := make([]byte, len(t.Data)*4)
	for i, v := range t.Data {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	return wireTensor{Width: t.Width, Height: t.Height, Data: data}
}

// Package publisher packages analysis results into an image message and a
// keypoints message and emits both on independent topics.
package publisher

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/care/orion-pose/internal/transport"
	"github.com/care/orion-pose/internal/types"
)

// Topics names the two output channels
type Topics struct {
	Image     string
	Keypoints string
}

// Publisher emits results through a transport.
//
// Both messages are built before anything is sent, so a result that cannot
// be packaged produces no output at all. Transport errors are logged and
// counted; they never stop the caller.
type Publisher struct {
	transport transport.Publisher
	topics    Topics
	frameID   string

	published   atomic.Uint64
	buildErrors atomic.Uint64
	emitErrors  atomic.Uint64
}

// Stats contains publisher statistics
type Stats struct {
	Published   uint64 `json:"published"`
	BuildErrors uint64 `json:"build_errors"`
	EmitErrors  uint64 `json:"emit_errors"`
}

// New creates a publisher. frameID is stamped on every header.
func New(t transport.Publisher, topics Topics, frameID string) (*Publisher, error) {
	if t == nil {
		return nil, fmt.Errorf("publisher: transport is required")
	}
	if topics.Image == "" || topics.Keypoints == "" {
		return nil, fmt.Errorf("publisher: image and keypoints topics are required")
	}
	return &Publisher{transport: t, topics: topics, frameID: frameID}, nil
}

// Publish emits the image message, then the keypoints message.
// It returns an error only when the result cannot be packaged.
func (p *Publisher) Publish(res types.AnalysisResult) error {
	imagePayload, keypointsPayload, err := p.build(res)
	if err != nil {
		p.buildErrors.Add(1)
		return fmt.Errorf("publish seq=%d: %w", res.Seq, err)
	}

	p.emit(p.topics.Image, imagePayload, res)
	p.emit(p.topics.Keypoints, keypointsPayload, res)
	p.published.Add(1)
	return nil
}

func (p *Publisher) build(res types.AnalysisResult) ([]byte, []byte, error) {
	img, err := BuildImageMessage(res, p.frameID)
	if err != nil {
		return nil, nil, err
	}
	kp, err := BuildKeypointsMessage(res, p.frameID)
	if err != nil {
		return nil, nil, err
	}

	imagePayload, err := json.Marshal(img)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal image message: %w", err)
	}
	keypointsPayload, err := json.Marshal(kp)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal keypoints message: %w", err)
	}
	return imagePayload, keypointsPayload, nil
}

func (p *Publisher) emit(topic string, payload []byte, res types.AnalysisResult) {
	if err := p.transport.Publish(topic, payload); err != nil {
		p.emitErrors.Add(1)
		slog.Warn("failed to publish result",
			"topic", topic,
			"seq", res.Seq,
			"trace_id", res.TraceID,
			"error", err,
		)
	}
}

// Stats returns publisher statistics
func (p *Publisher) Stats() Stats {
	return Stats{
		Published:   p.published.Load(),
		BuildErrors: p.buildErrors.Load(),
		EmitErrors:  p.emitErrors.Load(),
	}
}

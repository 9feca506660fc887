package rtsp

import (
	"fmt"
	"log/slog"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// pipelineConfig describes the stream to capture
type pipelineConfig struct {
	URL    string
	Width  int
	Height int
	FPS    float64
}

// capture is a built, not yet playing, GStreamer graph
type capture struct {
	pipeline *gst.Pipeline
	src      *gst.Element // rtspsrc, pads appear at runtime
	depay    *gst.Element // first static element, linked from src on pad-added
	sink     *app.Sink
}

// stage is one static element of the decode chain
type stage struct {
	factory string
	props   map[string]any
}

// decodeChain is everything between rtspsrc and the appsink:
// depayload, software decode, convert to BGR, scale, rate limit, caps.
func decodeChain(cfg pipelineConfig) []stage {
	return []stage{
		{"rtph264depay", map[string]any{"request-keyframe": true}},
		{"avdec_h264", map[string]any{"max-threads": 0, "output-corrupt": false}},
		{"videoconvert", map[string]any{"n-threads": 0}},
		{"videoscale", nil},
		{"videorate", map[string]any{"drop-only": true, "skip-to-first": true}},
		{"capsfilter", map[string]any{"caps": gst.NewCapsFromString(buildCaps(cfg.Width, cfg.Height, cfg.FPS))}},
	}
}

func newElement(s stage) (*gst.Element, error) {
	el, err := gst.NewElement(s.factory)
	if err != nil {
		return nil, fmt.Errorf("gstreamer element %s: %w", s.factory, err)
	}
	for name, value := range s.props {
		if err := el.SetProperty(name, value); err != nil {
			return nil, fmt.Errorf("gstreamer element %s: property %s: %w", s.factory, name, err)
		}
	}
	return el, nil
}

// buildCapture creates the graph for cfg without starting it
func buildCapture(cfg pipelineConfig) (*capture, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("gstreamer pipeline: %w", err)
	}

	src, err := newElement(stage{"rtspsrc", map[string]any{
		"location":  cfg.URL,
		"protocols": 4, // tcp
		"latency":   200,
		"ntp-sync":  false,
	}})
	if err != nil {
		return nil, err
	}

	chain := make([]*gst.Element, 0, 8)
	for _, s := range decodeChain(cfg) {
		el, err := newElement(s)
		if err != nil {
			return nil, err
		}
		chain = append(chain, el)
	}

	sink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("gstreamer appsink: %w", err)
	}
	// one buffer, newest wins: the exchange downstream applies the same policy
	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", 1)
	sink.SetProperty("drop", true)
	chain = append(chain, sink.Element)

	if err := pipeline.AddMany(append([]*gst.Element{src}, chain...)...); err != nil {
		return nil, fmt.Errorf("gstreamer add elements: %w", err)
	}
	if err := gst.ElementLinkMany(chain...); err != nil {
		return nil, fmt.Errorf("gstreamer link decode chain: %w", err)
	}

	slog.Debug("rtsp: capture graph built", "url", cfg.URL, "caps", buildCaps(cfg.Width, cfg.Height, cfg.FPS))

	return &capture{pipeline: pipeline, src: src, depay: chain[0], sink: sink}, nil
}

// release stops the graph; nil-safe
func (c *capture) release() error {
	if c == nil || c.pipeline == nil {
		return nil
	}
	if err := c.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("gstreamer pipeline to NULL: %w", err)
	}
	return nil
}

// buildCaps returns the raw BGR caps for the appsink. Rates below 1 fps
// are expressed as 1/N.
func buildCaps(width, height int, fps float64) string {
	num, den := int(fps), 1
	if fps < 1 {
		num, den = 1, int(1/fps)
	}
	return fmt.Sprintf("video/x-raw,format=BGR,width=%d,height=%d,framerate=%d/%d", width, height, num, den)
}

package detection

import (
	"context"
	"fmt"

	"pepperbot/internal/pipeline"

	log "github.com/sirupsen/logrus"
)

// MobileNet-SSD input geometry and normalization
const (
	SSDInputSize   = 300
	SSDScale       = 0.007843
	SSDMean        = 127.5
	SSDPersonClass = 15 // "person" in the VOC label map
)

// MobileNetBackend detects people with a MobileNet-SSD Caffe model
type MobileNetBackend struct {
	engine Engine
	opts   Options
	logger *log.Entry
}

// Name returns "mobilenet"
func (b *MobileNetBackend) Name() string { return string(MethodMobileNet) }

// Detect runs a forward pass and keeps person rows above the threshold
func (b *MobileNetBackend) Detect(ctx context.Context, frame *pipeline.Frame) ([]pipeline.Candidate, error) {
	out, err := b.engine.ForwardSSD(ctx, frame)
	if err != nil {
		return nil, fmt.Errorf("mobilenet forward: %w", err)
	}
	candidates := ssdCandidates(out, frame.Width, frame.Height, b.opts.Confidence)
	b.logger.WithFields(log.Fields{
		"seq":      frame.Seq,
		"raw":      len(out.Detections),
		"accepted": len(candidates),
	}).Debug("MobileNet frame processed")
	return candidates, nil
}

// Close releases the engine
func (b *MobileNetBackend) Close() error { return b.engine.Close() }

func ssdCandidates(out *SSDOutput, frameW, frameH int, threshold float64) []pipeline.Candidate {
	candidates := make([]pipeline.Candidate, 0)
	for _, row := range out.Detections {
		if len(row) < 7 {
			continue
		}
		if int(row[1]) != SSDPersonClass {
			continue
		}
		conf := pipeline.Clamp01(float64(row[2]))
		if !accept(conf, threshold) {
			continue
		}

		startX := int(float64(row[3]) * float64(frameW))
		startY := int(float64(row[4]) * float64(frameH))
		endX := int(float64(row[5]) * float64(frameW))
		endY := int(float64(row[6]) * float64(frameH))

		bbox := pipeline.ClipBox(startX, startY, endX-startX, endY-startY, frameW, frameH)
		if bbox.Empty() {
			continue
		}
		candidates = append(candidates, pipeline.Candidate{
			ID:         len(candidates),
			BBox:       bbox,
			Confidence: pipeline.Round2(conf),
		})
	}
	return candidates
}

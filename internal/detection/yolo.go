package detection

import (
	"context"
	"fmt"

	"pepperbot/internal/pipeline"

	log "github.com/sirupsen/logrus"
)

// YOLO input geometry and post-processing constants
const (
	YOLOInputSize       = 416
	YOLOScale           = 1.0 / 255.0
	YOLOPersonClass     = 0 // "person" in COCO
	DefaultNMSThreshold = 0.4
)

// YOLOBackend detects people with a Darknet YOLO model
type YOLOBackend struct {
	engine Engine
	opts   Options
	logger *log.Entry
}

// Name returns "yolo"
func (b *YOLOBackend) Name() string { return string(MethodYOLO) }

// Detect runs a forward pass over all output layers and suppresses overlaps
func (b *YOLOBackend) Detect(ctx context.Context, frame *pipeline.Frame) ([]pipeline.Candidate, error) {
	out, err := b.engine.ForwardYOLO(ctx, frame)
	if err != nil {
		return nil, fmt.Errorf("yolo forward: %w", err)
	}
	candidates := yoloCandidates(out, frame.Width, frame.Height, b.opts.Confidence, b.opts.NMSThreshold)
	b.logger.WithFields(log.Fields{
		"seq":      frame.Seq,
		"layers":   len(out.Outputs),
		"accepted": len(candidates),
	}).Debug("YOLO frame processed")
	return candidates, nil
}

// Close releases the engine
func (b *YOLOBackend) Close() error { return b.engine.Close() }

func yoloCandidates(out *YOLOOutput, frameW, frameH int, threshold, nmsThreshold float64) []pipeline.Candidate {
	var (
		boxes  []pipeline.BoundingBox
		scores []float64
	)
	for _, layer := range out.Outputs {
		for _, row := range layer {
			if len(row) < 6 {
				continue
			}
			classID := argmax(row[5:])
			if classID != YOLOPersonClass {
				continue
			}
			conf := pipeline.Clamp01(float64(row[5+classID]))
			if !accept(conf, threshold) {
				continue
			}

			centerX := int(float64(row[0]) * float64(frameW))
			centerY := int(float64(row[1]) * float64(frameH))
			width := int(float64(row[2]) * float64(frameW))
			height := int(float64(row[3]) * float64(frameH))
			x := int(float64(centerX) - float64(width)/2)
			y := int(float64(centerY) - float64(height)/2)

			// Clip before suppression so the IoU bound holds on emitted boxes
			bbox := pipeline.ClipBox(x, y, width, height, frameW, frameH)
			if bbox.Empty() {
				continue
			}
			boxes = append(boxes, bbox)
			scores = append(scores, conf)
		}
	}

	keep := NMSBoxes(boxes, scores, threshold, nmsThreshold)
	candidates := make([]pipeline.Candidate, 0, len(keep))
	for _, idx := range keep {
		candidates = append(candidates, pipeline.Candidate{
			ID:         len(candidates),
			BBox:       boxes[idx],
			Confidence: pipeline.Round2(scores[idx]),
		})
	}
	return candidates
}

// argmax returns the index of the first maximum
func argmax(values []float32) int {
	best := 0
	for i := 1; i < len(values); i++ {
		if values[i] > values[best] {
			best = i
		}
	}
	return best
}

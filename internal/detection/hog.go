package detection

import (
	"context"
	"fmt"

	"pepperbot/internal/pipeline"

	log "github.com/sirupsen/logrus"
)

// HOGBackend detects people with the classic HOG + linear SVM detector
type HOGBackend struct {
	engine Engine
	opts   Options
	logger *log.Entry
}

// Name returns "hog"
func (b *HOGBackend) Name() string { return string(MethodHOG) }

// Detect runs the people detector and normalizes its boxes
func (b *HOGBackend) Detect(ctx context.Context, frame *pipeline.Frame) ([]pipeline.Candidate, error) {
	out, err := b.engine.DetectPeople(ctx, frame, b.opts.HOG)
	if err != nil {
		return nil, fmt.Errorf("hog detect: %w", err)
	}
	candidates := hogCandidates(out, frame.Width, frame.Height, b.opts.Confidence)
	b.logger.WithFields(log.Fields{
		"seq":      frame.Seq,
		"raw":      len(out.Boxes),
		"accepted": len(candidates),
	}).Debug("HOG frame processed")
	return candidates, nil
}

// Close releases the engine
func (b *HOGBackend) Close() error { return b.engine.Close() }

func hogCandidates(out *HOGOutput, frameW, frameH int, threshold float64) []pipeline.Candidate {
	candidates := make([]pipeline.Candidate, 0, len(out.Boxes))
	for i, box := range out.Boxes {
		conf := 1.0
		if i < len(out.Weights) && out.Weights[i].Valid {
			conf = out.Weights[i].Value
		}
		conf = pipeline.Clamp01(conf)
		if !accept(conf, threshold) {
			continue
		}
		bbox := pipeline.ClipBox(box[0], box[1], box[2], box[3], frameW, frameH)
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

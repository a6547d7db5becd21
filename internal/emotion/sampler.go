package emotion

import (
	"context"
	"errors"
	"fmt"
	"image"

	"pepperbot/internal/pipeline"

	log "github.com/sirupsen/logrus"
)

// Sampler applies the strict-then-lenient policy on top of an Analyzer
type Sampler struct {
	analyzer        Analyzer
	detectorBackend string
	logger          *log.Entry
}

// NewSampler probes analyzer with a blank image and returns a ready sampler.
// Probe failures are reported as a *pipeline.FatalError wrapping pipeline.ErrEmotionInit.
func NewSampler(ctx context.Context, analyzer Analyzer) (*Sampler, error) {
	s := &Sampler{
		analyzer:        analyzer,
		detectorBackend: DefaultDetectorBackend,
		logger:          log.WithField("component", "emotion"),
	}

	_, err := analyzer.Analyze(ctx, AnalyzeRequest{
		Image:            probeImage(),
		EnforceDetection: false,
		DetectorBackend:  s.detectorBackend,
	})
	if err != nil {
		cause := fmt.Errorf("%w: %w", pipeline.ErrEmotionInit, err)
		var unavailable *UnavailableError
		if errors.As(err, &unavailable) {
			return nil, pipeline.Fatal(unavailable.Message, cause)
		}
		return nil, pipeline.Fatal("Emotion detector failed: "+err.Error(), cause)
	}

	s.logger.Info("Emotion analyzer ready")
	return s, nil
}

// Sample infers the dominant emotion inside box. It never returns an error;
// the outcome tells why an estimate is absent.
func (s *Sampler) Sample(ctx context.Context, frame *pipeline.Frame, box pipeline.BoundingBox) pipeline.EmotionSample {
	region, ok := Crop(frame.Image, box)
	if !ok {
		return pipeline.EmotionSample{Outcome: pipeline.EmotionEmptyRegion}
	}

	results, err := s.analyze(ctx, region, true)
	if err == nil {
		return s.estimate(results, "", pipeline.EmotionSampled)
	}
	if !errors.Is(err, ErrNoFace) {
		return pipeline.EmotionSample{
			Outcome: pipeline.EmotionBackendFailure,
			Err:     fmt.Errorf("%w: %w", pipeline.ErrEmotionInference, err),
		}
	}

	// No face under strict mode: analyze the whole region instead
	results, err = s.analyze(ctx, region, false)
	if err != nil {
		outcome := pipeline.EmotionBackendFailure
		if errors.Is(err, ErrNoFace) {
			outcome = pipeline.EmotionNoFace
		}
		return pipeline.EmotionSample{
			Outcome: outcome,
			Err:     fmt.Errorf("%w: %w", pipeline.ErrEmotionInference, err),
		}
	}
	return s.estimate(results, pipeline.NoteLowConfidenceFace, pipeline.EmotionSampledLenient)
}

func (s *Sampler) analyze(ctx context.Context, region image.Image, enforce bool) ([]Analysis, error) {
	return s.analyzer.Analyze(ctx, AnalyzeRequest{
		Image:            region,
		EnforceDetection: enforce,
		DetectorBackend:  s.detectorBackend,
	})
}

func (s *Sampler) estimate(results []Analysis, note string, outcome pipeline.EmotionOutcome) pipeline.EmotionSample {
	if len(results) == 0 {
		return pipeline.EmotionSample{Outcome: pipeline.EmotionNoFace}
	}
	est, err := ToEstimate(results[0], note)
	if err != nil {
		return pipeline.EmotionSample{
			Outcome: pipeline.EmotionBackendFailure,
			Err:     fmt.Errorf("%w: %w", pipeline.ErrEmotionInference, err),
		}
	}
	return pipeline.EmotionSample{Estimate: est, Outcome: outcome}
}

// Close releases the analyzer
func (s *Sampler) Close() error {
	return s.analyzer.Close()
}

var _ pipeline.EmotionSampler = (*Sampler)(nil)

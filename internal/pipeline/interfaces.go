package pipeline

import (
	"context"
	"image"
)

// FrameSource supplies successive frames from a camera-like device
type FrameSource interface {
	// Read blocks until the next frame is available.
	// Returns an error wrapping ErrFrameRead when no frame can be produced.
	Read(ctx context.Context) (*Frame, error)

	// Close releases the device
	Close() error
}

// DetectionBackend turns a frame into normalized person candidates
type DetectionBackend interface {
	// Name returns the method identifier reported in the ready event
	Name() string

	// Detect returns candidates with ids equal to their output position,
	// boxes clipped to the frame and confidences rounded to two decimals
	Detect(ctx context.Context, frame *Frame) ([]Candidate, error)

	// Close releases backend resources
	Close() error
}

// EmotionOutcome explains why an emotion sample has or lacks an estimate
type EmotionOutcome int

const (
	// EmotionSampled - strict attempt found a face
	EmotionSampled EmotionOutcome = iota
	// EmotionSampledLenient - no face under strict mode, lenient attempt produced an estimate
	EmotionSampledLenient
	// EmotionEmptyRegion - bbox crop had no pixels, inference not invoked
	EmotionEmptyRegion
	// EmotionNoFace - neither attempt could analyze a face
	EmotionNoFace
	// EmotionBackendFailure - the classifier failed for a reason other than a missing face
	EmotionBackendFailure
)

func (o EmotionOutcome) String() string {
	switch o {
	case EmotionSampled:
		return "sampled"
	case EmotionSampledLenient:
		return "sampled_lenient"
	case EmotionEmptyRegion:
		return "empty_region"
	case EmotionNoFace:
		return "no_face"
	case EmotionBackendFailure:
		return "backend_failure"
	default:
		return "unknown"
	}
}

// EmotionSample is the result of sampling one region
type EmotionSample struct {
	Estimate *EmotionEstimate // nil when absent
	Outcome  EmotionOutcome
	Err      error // cause for NoFace / BackendFailure
}

// EmotionSampler infers the dominant facial emotion inside a frame region
type EmotionSampler interface {
	// Sample never fails the caller; problems are reported through the outcome
	Sample(ctx context.Context, frame *Frame, box BoundingBox) EmotionSample

	// Close releases the underlying classifier
	Close() error
}

// Display renders preview frames for an operator
type Display interface {
	// Show renders img. Returns false when the operator asked to stop.
	Show(ctx context.Context, img image.Image) (bool, error)

	// Close tears down the preview
	Close() error
}

// Emitter writes structured events to the single output channel
type Emitter interface {
	Ready(method string) error
	EmotionReady() error
	Error(message string) error
	Detected(result *Result) error
	Close() error
}

// Annotator draws humans on a copy of img; img itself must not be modified
type Annotator func(img image.Image, humans []Human) image.Image

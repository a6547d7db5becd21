package emotion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	"pepperbot/internal/pipeline"

	"golang.org/x/image/draw"
)

var (
	// ErrNoFace means the classifier could not find a face under the requested policy
	ErrNoFace = errors.New("face could not be detected")
	// ErrWorkerBroken means the worker stream is no longer usable
	ErrWorkerBroken = errors.New("emotion worker is not running")
)

// UnavailableError reports a classifier that cannot run at all (for example a
// missing library on the worker side). Message is shown to operators verbatim.
type UnavailableError struct {
	Message string
}

func (e *UnavailableError) Error() string { return e.Message }

// DefaultDetectorBackend is the face detector used by the classifier
const DefaultDetectorBackend = "opencv"

// AnalyzeRequest asks for the emotion of every face in Image
type AnalyzeRequest struct {
	Image            image.Image
	EnforceDetection bool   // Fail with ErrNoFace instead of analyzing the whole region
	DetectorBackend  string // Face detector name, e.g. "opencv"
}

// Analysis is the raw per-face classifier output. Scores are percentages.
type Analysis struct {
	DominantEmotion string             `msgpack:"dominant_emotion" json:"dominant_emotion"`
	Emotion         map[string]float64 `msgpack:"emotion" json:"emotion"`
	FaceConfidence  float64            `msgpack:"face_confidence" json:"face_confidence"`
}

// Analyzer is a facial-emotion classifier
type Analyzer interface {
	// Analyze returns one analysis per face found, or an error wrapping ErrNoFace
	Analyze(ctx context.Context, req AnalyzeRequest) ([]Analysis, error)
	Close() error
}

// ToEstimate rescales percentages to [0, 1] with two decimals
func ToEstimate(a Analysis, note string) (*pipeline.EmotionEstimate, error) {
	if len(a.Emotion) == 0 {
		return nil, fmt.Errorf("analysis has no emotion scores")
	}
	if _, ok := a.Emotion[a.DominantEmotion]; !ok {
		return nil, fmt.Errorf("dominant emotion %q missing from scores", a.DominantEmotion)
	}
	scores := make(map[string]float64, len(a.Emotion))
	for label, pct := range a.Emotion {
		scores[label] = pipeline.Round2(pipeline.Clamp01(pct / 100))
	}
	return &pipeline.EmotionEstimate{
		Label:      a.DominantEmotion,
		Confidence: scores[a.DominantEmotion],
		Scores:     scores,
		Note:       note,
	}, nil
}

// Crop copies the part of img covered by box. Returns false when nothing remains
// after clipping to the image bounds.
func Crop(img image.Image, box pipeline.BoundingBox) (image.Image, bool) {
	b := img.Bounds()
	r := box.Rect().Add(b.Min).Intersect(b)
	if r.Empty() {
		return nil, false
	}
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(out, out.Bounds(), img, r.Min, draw.Src)
	return out, true
}

// encodeJPEG serializes a region for transport to a classifier
func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encode region: %w", err)
	}
	return buf.Bytes(), nil
}

// probeImage is the 48x48 black image used to verify a classifier at startup
func probeImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 48, 48))
	draw.Draw(img, img.Bounds(), image.Black, image.Point{}, draw.Src)
	return img
}

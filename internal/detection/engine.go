package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"pepperbot/internal/pipeline"
)

// Engine runs raw model inference. Backends own all post-processing.
type Engine interface {
	// Load verifies the model artifacts for method are usable.
	// Returns an error wrapping pipeline.ErrModelUnavailable when they are not.
	Load(ctx context.Context, method Method) error

	// DetectPeople runs the HOG people detector on a grayscale frame
	DetectPeople(ctx context.Context, frame *pipeline.Frame, params HOGParams) (*HOGOutput, error)

	// ForwardSSD runs MobileNet-SSD and returns its detection rows
	ForwardSSD(ctx context.Context, frame *pipeline.Frame) (*SSDOutput, error)

	// ForwardYOLO runs YOLO and returns every output layer
	ForwardYOLO(ctx context.Context, frame *pipeline.Frame) (*YOLOOutput, error)

	Close() error
}

// HOGParams are the multi-scale sliding-window parameters
type HOGParams struct {
	WinStride int     `json:"win_stride"` // Square stride in pixels
	Padding   int     `json:"padding"`    // Square padding in pixels
	Scale     float64 `json:"scale"`      // Pyramid scale step
}

// DefaultHOGParams returns winStride (8,8), padding (4,4), scale 1.05
func DefaultHOGParams() HOGParams {
	return HOGParams{WinStride: 8, Padding: 4, Scale: 1.05}
}

// HOGOutput is the raw people-detector result
type HOGOutput struct {
	Boxes   [][4]int    `json:"boxes"`   // x, y, w, h
	Weights []HOGWeight `json:"weights"` // May be shorter than Boxes
}

// HOGWeight is a per-box SVM weight that arrives either as a scalar or as a
// single-element array depending on the detector build
type HOGWeight struct {
	Value float64
	Valid bool
}

// UnmarshalJSON accepts 0.8, [0.8], [] and null
func (w *HOGWeight) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*w = HOGWeight{}
		return nil
	}
	if data[0] == '[' {
		var arr []float64
		if err := json.Unmarshal(data, &arr); err != nil {
			return fmt.Errorf("hog weight: %w", err)
		}
		if len(arr) == 0 {
			*w = HOGWeight{}
			return nil
		}
		*w = HOGWeight{Value: arr[0], Valid: true}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("hog weight: %w", err)
	}
	*w = HOGWeight{Value: v, Valid: true}
	return nil
}

// MarshalJSON writes the scalar form
func (w HOGWeight) MarshalJSON() ([]byte, error) {
	if !w.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(w.Value)
}

// SSDOutput holds MobileNet-SSD rows of
// [image_id, class_id, score, x1, y1, x2, y2] with coordinates normalized to [0, 1]
type SSDOutput struct {
	Detections [][]float32 `json:"detections"`
}

// YOLOOutput holds one matrix per output layer; each row is
// [cx, cy, w, h, objectness, class scores...] normalized to [0, 1]
type YOLOOutput struct {
	Outputs [][][]float32 `json:"outputs"`
}

// ErrOpenCVUnavailable is returned by in-process constructors when the binary
// was built without the opencv tag
var ErrOpenCVUnavailable = errors.New("opencv support not compiled in (rebuild with -tags opencv)")

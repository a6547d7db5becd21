package pipeline

import (
	"image"
	"math"
	"time"
)

// Frame is a single decoded camera frame
type Frame struct {
	Image     image.Image // Decoded pixels
	Data      []byte      // Encoded JPEG the image was decoded from (may be nil)
	Seq       uint64      // Frame sequence number
	Timestamp time.Time   // Capture timestamp
	Width     int
	Height    int
}

// NewFrame wraps a decoded image, filling the dimensions from its bounds
func NewFrame(img image.Image, data []byte, seq uint64) *Frame {
	b := img.Bounds()
	return &Frame{
		Image:     img,
		Data:      data,
		Seq:       seq,
		Timestamp: time.Now(),
		Width:     b.Dx(),
		Height:    b.Dy(),
	}
}

// BoundingBox is an axis-aligned rectangle in frame pixel coordinates
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rect converts the box to an image.Rectangle
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

// Area returns width*height
func (b BoundingBox) Area() int {
	return b.Width * b.Height
}

// Empty reports whether the box covers no pixels
func (b BoundingBox) Empty() bool {
	return b.Width <= 0 || b.Height <= 0
}

// ClipBox clips a box given as top-left plus size to a width x height frame.
// The result always satisfies 0 <= x, 0 <= y, x+width <= frameW, y+height <= frameH.
func ClipBox(x, y, w, h, frameW, frameH int) BoundingBox {
	x1 := clampInt(x, 0, frameW)
	y1 := clampInt(y, 0, frameH)
	x2 := clampInt(x+w, 0, frameW)
	y2 := clampInt(y+h, 0, frameH)
	if x2 < x1 {
		x2 = x1
	}
	if y2 < y1 {
		y2 = y1
	}
	return BoundingBox{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Candidate is a detected person before emotion enrichment
type Candidate struct {
	ID         int         `json:"id"`
	BBox       BoundingBox `json:"bbox"`
	Confidence float64     `json:"confidence"`
}

// EmotionEstimate is the per-person emotion inference result
type EmotionEstimate struct {
	Label      string             `json:"label"`
	Confidence float64            `json:"confidence"`
	Scores     map[string]float64 `json:"scores"`
	Note       string             `json:"note,omitempty"`
}

// NoteLowConfidenceFace tags estimates produced without a detected face
const NoteLowConfidenceFace = "low_confidence_face"

// Human is a candidate as it appears in the emitted result
type Human struct {
	ID         int              `json:"id"`
	BBox       BoundingBox      `json:"bbox"`
	Confidence float64          `json:"confidence"`
	Emotion    *EmotionEstimate `json:"emotion,omitempty"`
}

// Result is the terminal detection event
type Result struct {
	Status    string  `json:"status"`
	Count     int     `json:"count"`
	Humans    []Human `json:"humans"`
	Timestamp string  `json:"timestamp"`
}

// TimestampLayout is the ISO-8601 layout used for result timestamps
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// NewResult builds a detected result; count always equals len(humans)
func NewResult(humans []Human, at time.Time) *Result {
	if humans == nil {
		humans = []Human{}
	}
	return &Result{
		Status:    "detected",
		Count:     len(humans),
		Humans:    humans,
		Timestamp: at.Format(TimestampLayout),
	}
}

// Round2 rounds to two decimal places
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Clamp01 limits a score to [0, 1]
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEmitter struct {
	events []string
	result *Result
}

func (e *recordingEmitter) Ready(method string) error {
	e.events = append(e.events, "ready:"+method)
	return nil
}

func (e *recordingEmitter) EmotionReady() error {
	e.events = append(e.events, "emotion_ready")
	return nil
}

func (e *recordingEmitter) Error(message string) error {
	e.events = append(e.events, "error:"+message)
	return nil
}

func (e *recordingEmitter) Detected(result *Result) error {
	e.events = append(e.events, "detected")
	e.result = result
	return nil
}

func (e *recordingEmitter) Close() error { return nil }

// scriptedSource yields frames until its budget runs out, then fails
type scriptedSource struct {
	frames int
	read   int
	closed *[]string
}

func (s *scriptedSource) Read(ctx context.Context) (*Frame, error) {
	if s.read >= s.frames {
		return nil, fmt.Errorf("%w: end of stream", ErrFrameRead)
	}
	s.read++
	return NewFrame(image.NewRGBA(image.Rect(0, 0, 320, 240)), nil, uint64(s.read)), nil
}

func (s *scriptedSource) Close() error {
	*s.closed = append(*s.closed, "source")
	return nil
}

// scriptedBackend returns one candidate list per frame; frames past the script see nothing
type scriptedBackend struct {
	perFrame [][]Candidate
	calls    int
	err      error
	closed   *[]string
}

func (b *scriptedBackend) Name() string { return "mobilenet" }

func (b *scriptedBackend) Detect(ctx context.Context, frame *Frame) ([]Candidate, error) {
	if b.err != nil {
		return nil, b.err
	}
	defer func() { b.calls++ }()
	if b.calls < len(b.perFrame) {
		return b.perFrame[b.calls], nil
	}
	return nil, nil
}

func (b *scriptedBackend) Close() error {
	*b.closed = append(*b.closed, "backend")
	return nil
}

type countingSampler struct {
	boxes  []BoundingBox
	fail   bool
	closed *[]string
}

func (s *countingSampler) Sample(ctx context.Context, frame *Frame, box BoundingBox) EmotionSample {
	s.boxes = append(s.boxes, box)
	if s.fail {
		return EmotionSample{Outcome: EmotionBackendFailure, Err: ErrEmotionInference}
	}
	return EmotionSample{
		Estimate: &EmotionEstimate{Label: "happy", Confidence: 0.8, Scores: map[string]float64{"happy": 0.8}},
		Outcome:  EmotionSampled,
	}
}

func (s *countingSampler) Close() error {
	*s.closed = append(*s.closed, "sampler")
	return nil
}

type stopAfterDisplay struct {
	shown  int
	stopAt int
}

func (d *stopAfterDisplay) Show(ctx context.Context, img image.Image) (bool, error) {
	d.shown++
	return d.shown < d.stopAt, nil
}

func (d *stopAfterDisplay) Close() error { return nil }

func cand(id, x int, conf float64) Candidate {
	return Candidate{ID: id, BBox: BoundingBox{X: x, Y: 10, Width: 40, Height: 80}, Confidence: conf}
}

type harness struct {
	closed  []string
	source  *scriptedSource
	backend *scriptedBackend
	sampler *countingSampler
	emitter *recordingEmitter
}

func newHarness(frames int, perFrame ...[]Candidate) *harness {
	h := &harness{emitter: &recordingEmitter{}}
	h.source = &scriptedSource{frames: frames, closed: &h.closed}
	h.backend = &scriptedBackend{perFrame: perFrame, closed: &h.closed}
	h.sampler = &countingSampler{closed: &h.closed}
	return h
}

func (h *harness) openers() Openers {
	return Openers{
		Source:  func(context.Context) (FrameSource, error) { return h.source, nil },
		Backend: func(context.Context) (DetectionBackend, error) { return h.backend, nil },
		Sampler: func(context.Context) (EmotionSampler, error) { return h.sampler, nil },
	}
}

func fixedClock() time.Time {
	return time.Date(2026, 1, 5, 9, 0, 0, 123456000, time.UTC)
}

func TestCycleEmitsFirstDetection(t *testing.T) {
	h := newHarness(5, nil, nil, []Candidate{cand(0, 10, 0.91), cand(1, 100, 0.6)})
	c := NewDetectionCycle(CycleConfig{Method: "mobilenet"}, h.openers(), h.emitter, WithClock(fixedClock))

	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, StateEmitted, c.State())
	assert.Equal(t, []string{"ready:mobilenet", "detected"}, h.emitter.events)
	assert.Equal(t, 3, h.source.read, "stops reading after the first detection")

	res := h.emitter.result
	require.NotNil(t, res)
	assert.Equal(t, "detected", res.Status)
	assert.Equal(t, len(res.Humans), res.Count)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, "2026-01-05T09:00:00.123456Z", res.Timestamp)
	for _, hu := range res.Humans {
		assert.Nil(t, hu.Emotion, "emotion disabled")
	}
	assert.Equal(t, []string{"backend", "source"}, h.closed, "released in reverse order")
}

func TestCycleThrottlesEmotionAcrossCandidates(t *testing.T) {
	h := newHarness(1, []Candidate{cand(0, 10, 0.9), cand(1, 100, 0.8), cand(2, 200, 0.7)})
	c := NewDetectionCycle(CycleConfig{EmotionEnabled: true, EmotionInterval: 2}, h.openers(), h.emitter)

	require.NoError(t, c.Run(context.Background()))

	humans := h.emitter.result.Humans
	require.Len(t, humans, 3)
	assert.Nil(t, humans[0].Emotion)
	require.NotNil(t, humans[1].Emotion)
	assert.Equal(t, "happy", humans[1].Emotion.Label)
	assert.Nil(t, humans[2].Emotion)
	assert.Len(t, h.sampler.boxes, 1)
	assert.Equal(t, 3, c.Throttle().Count())
	assert.Equal(t, []string{"ready:mobilenet", "emotion_ready", "detected"}, h.emitter.events)
	assert.Equal(t, []string{"sampler", "backend", "source"}, h.closed)
}

func TestCycleOmitsFailedEmotion(t *testing.T) {
	h := newHarness(1, []Candidate{cand(0, 10, 0.9)})
	h.sampler.fail = true
	c := NewDetectionCycle(CycleConfig{EmotionEnabled: true, EmotionInterval: 1}, h.openers(), h.emitter)

	require.NoError(t, c.Run(context.Background()))
	require.Len(t, h.emitter.result.Humans, 1)
	assert.Nil(t, h.emitter.result.Humans[0].Emotion)
	assert.Len(t, h.sampler.boxes, 1)
}

func TestCycleSamplerInitFailureDisablesEmotion(t *testing.T) {
	h := newHarness(1, []Candidate{cand(0, 10, 0.9), cand(1, 60, 0.9)})
	open := h.openers()
	open.Sampler = func(context.Context) (EmotionSampler, error) {
		return nil, Fatal("DeepFace library not installed. Install with: pip install deepface", ErrEmotionInit)
	}
	c := NewDetectionCycle(CycleConfig{EmotionEnabled: true, EmotionInterval: 1}, open, h.emitter)

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, []string{
		"ready:mobilenet",
		"error:DeepFace library not installed. Install with: pip install deepface",
		"detected",
	}, h.emitter.events)
	for _, hu := range h.emitter.result.Humans {
		assert.Nil(t, hu.Emotion)
	}
	assert.Zero(t, c.Throttle().Count(), "no candidates counted without a sampler")
}

func TestCycleSamplerInitPlainErrorIsPrefixed(t *testing.T) {
	h := newHarness(1, []Candidate{cand(0, 10, 0.9)})
	open := h.openers()
	open.Sampler = func(context.Context) (EmotionSampler, error) { return nil, errors.New("no worker") }
	c := NewDetectionCycle(CycleConfig{EmotionEnabled: true}, open, h.emitter)

	require.NoError(t, c.Run(context.Background()))
	assert.Contains(t, h.emitter.events, "error:Emotion detector failed: no worker")
}

func TestCycleCameraFailure(t *testing.T) {
	h := newHarness(0)
	open := h.openers()
	open.Source = func(context.Context) (FrameSource, error) {
		return nil, Fatal("Failed to open camera: 0", ErrDeviceUnavailable)
	}
	backendOpened := false
	open.Backend = func(context.Context) (DetectionBackend, error) {
		backendOpened = true
		return h.backend, nil
	}
	c := NewDetectionCycle(CycleConfig{}, open, h.emitter)

	err := c.Run(context.Background())

	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.Equal(t, StateError, c.State())
	assert.Equal(t, []string{"error:Failed to open camera: 0"}, h.emitter.events, "single error line")
	assert.False(t, backendOpened)
	assert.Nil(t, c.Result())
}

func TestCycleDetectorInitFailure(t *testing.T) {
	h := newHarness(0)
	open := h.openers()
	open.Backend = func(context.Context) (DetectionBackend, error) {
		return nil, errors.New("weights truncated")
	}
	c := NewDetectionCycle(CycleConfig{}, open, h.emitter)

	err := c.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"error:Detector initialization failed: weights truncated"}, h.emitter.events)
	assert.Equal(t, []string{"source"}, h.closed, "opened source is still released")
}

func TestCycleFrameReadFailure(t *testing.T) {
	h := newHarness(2)
	c := NewDetectionCycle(CycleConfig{}, h.openers(), h.emitter)

	err := c.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFrameRead)
	assert.Equal(t, []string{"ready:mobilenet", "error:Failed to read from camera"}, h.emitter.events)
	assert.Equal(t, StateError, c.State())
}

func TestCycleDetectionFailure(t *testing.T) {
	h := newHarness(3)
	h.backend.err = errors.New("forward pass failed")
	c := NewDetectionCycle(CycleConfig{}, h.openers(), h.emitter)

	err := c.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, "Detection failed: forward pass failed", err.Error())
}

func TestCycleInterruptedByContext(t *testing.T) {
	h := newHarness(1000)
	ctx, cancel := context.WithCancel(context.Background())
	c := NewDetectionCycle(CycleConfig{Pacing: 10 * time.Millisecond}, h.openers(), h.emitter)

	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	err := c.Run(ctx)

	assert.ErrorIs(t, err, ErrInterrupted)
	assert.Equal(t, StateInterrupted, c.State())
	assert.Nil(t, c.Result())
	assert.Equal(t, []string{"ready:mobilenet"}, h.emitter.events, "no result or error event")
	assert.Equal(t, []string{"backend", "source"}, h.closed)
}

func TestCycleInterruptedByDisplay(t *testing.T) {
	h := newHarness(1000)
	display := &stopAfterDisplay{stopAt: 3}
	open := h.openers()
	open.Display = func(context.Context) (Display, error) { return display, nil }
	c := NewDetectionCycle(CycleConfig{Display: true}, open, h.emitter)

	err := c.Run(context.Background())
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.Equal(t, 3, display.shown)
	assert.Equal(t, 3, h.source.read)
}

func TestCycleAnnotatesPreviewBeforeEmitting(t *testing.T) {
	h := newHarness(1, []Candidate{cand(0, 10, 0.9)})
	display := &stopAfterDisplay{stopAt: 100}
	open := h.openers()
	open.Display = func(context.Context) (Display, error) { return display, nil }

	var annotated []Human
	annotate := func(img image.Image, humans []Human) image.Image {
		annotated = humans
		return img
	}
	c := NewDetectionCycle(CycleConfig{Display: true}, open, h.emitter, WithAnnotator(annotate))

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, 1, display.shown)
	require.Len(t, annotated, 1)
	assert.Equal(t, 0.9, annotated[0].Confidence)
}

func TestCycleDisplayOpenFailureIsNotFatal(t *testing.T) {
	h := newHarness(1, []Candidate{cand(0, 10, 0.9)})
	open := h.openers()
	open.Display = func(context.Context) (Display, error) { return nil, errors.New("no X server") }
	c := NewDetectionCycle(CycleConfig{Display: true}, open, h.emitter)

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, StateEmitted, c.State())
}

func TestCycleRunsOnce(t *testing.T) {
	h := newHarness(1, []Candidate{cand(0, 10, 0.9)})
	c := NewDetectionCycle(CycleConfig{}, h.openers(), h.emitter)
	require.NoError(t, c.Run(context.Background()))
	assert.Error(t, c.Run(context.Background()))
}

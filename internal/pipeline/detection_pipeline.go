package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// State is the lifecycle position of a DetectionCycle
type State int

const (
	StateInit State = iota
	StateReady
	StateRunning
	StateEmitted
	StateError
	StateInterrupted
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateEmitted:
		return "emitted"
	case StateError:
		return "error"
	case StateInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible
func (s State) Terminal() bool {
	return s == StateEmitted || s == StateError || s == StateInterrupted
}

// DefaultPacing is the delay between frames that produced no candidates
const DefaultPacing = 100 * time.Millisecond

// CycleConfig holds the run parameters of a DetectionCycle
type CycleConfig struct {
	Method          string        // Backend name, used in init error messages
	EmotionEnabled  bool          // Open a sampler and gate it with the throttle
	EmotionInterval int           // Sample every Nth accepted candidate
	Display         bool          // Open a preview display
	Pacing          time.Duration // Delay after frames without candidates
}

// Openers construct the collaborators of a cycle during INIT.
// Sampler and Display may be nil when the feature is not available.
type Openers struct {
	Source  func(ctx context.Context) (FrameSource, error)
	Backend func(ctx context.Context) (DetectionBackend, error)
	Sampler func(ctx context.Context) (EmotionSampler, error)
	Display func(ctx context.Context) (Display, error)
}

// DetectionCycle pulls frames until it sees people, emits one result and stops
type DetectionCycle struct {
	cfg      CycleConfig
	open     Openers
	emitter  Emitter
	annotate Annotator
	throttle *Throttle
	logger   *log.Entry
	now      func() time.Time

	state   State
	source  FrameSource
	backend DetectionBackend
	sampler EmotionSampler
	display Display
	result  *Result
}

// CycleOption customizes a DetectionCycle
type CycleOption func(*DetectionCycle)

// WithAnnotator sets the renderer used for preview frames
func WithAnnotator(a Annotator) CycleOption {
	return func(c *DetectionCycle) { c.annotate = a }
}

// WithLogger sets the logger entry
func WithLogger(l *log.Entry) CycleOption {
	return func(c *DetectionCycle) { c.logger = l }
}

// WithClock overrides the timestamp source
func WithClock(now func() time.Time) CycleOption {
	return func(c *DetectionCycle) { c.now = now }
}

// NewDetectionCycle creates a cycle in the INIT state
func NewDetectionCycle(cfg CycleConfig, open Openers, emitter Emitter, opts ...CycleOption) *DetectionCycle {
	if cfg.Pacing < 0 {
		cfg.Pacing = 0
	}
	c := &DetectionCycle{
		cfg:      cfg,
		open:     open,
		emitter:  emitter,
		throttle: NewThrottle(cfg.EmotionInterval),
		logger:   log.WithField("component", "cycle"),
		now:      time.Now,
		state:    StateInit,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current lifecycle state
func (c *DetectionCycle) State() State {
	return c.state
}

// Result returns the emitted result, or nil if none was emitted
func (c *DetectionCycle) Result() *Result {
	return c.result
}

// Throttle exposes the emotion throttle
func (c *DetectionCycle) Throttle() *Throttle {
	return c.throttle
}

// Run drives the cycle to a terminal state.
// Returns nil after EMITTED, an error wrapping ErrInterrupted after INTERRUPTED,
// and a *FatalError after ERROR. Resources are released on every path.
func (c *DetectionCycle) Run(ctx context.Context) error {
	if c.state != StateInit {
		return fmt.Errorf("cycle already ran (state %s)", c.state)
	}
	defer c.release()

	if err := c.initialize(ctx); err != nil {
		return c.fail(err)
	}
	c.transition(StateReady)

	return c.loop(ctx)
}

func (c *DetectionCycle) initialize(ctx context.Context) error {
	source, err := c.open.Source(ctx)
	if err != nil {
		return classify(err, "Camera initialization error")
	}
	c.source = source

	backend, err := c.open.Backend(ctx)
	if err != nil {
		return classify(err, "Detector initialization failed")
	}
	c.backend = backend
	if err := c.emitter.Ready(backend.Name()); err != nil {
		return fmt.Errorf("emit ready: %w", err)
	}

	if c.cfg.EmotionEnabled {
		c.initSampler(ctx)
	}

	if c.cfg.Display && c.open.Display != nil {
		display, err := c.open.Display(ctx)
		if err != nil {
			c.logger.WithError(err).Warn("Preview unavailable, continuing without display")
		} else {
			c.display = display
		}
	}
	return nil
}

// initSampler opens the emotion sampler; failure only disables sampling
func (c *DetectionCycle) initSampler(ctx context.Context) {
	if c.open.Sampler == nil {
		c.emitError(fmt.Sprintf("Emotion detector failed: %v", ErrEmotionInit))
		return
	}
	sampler, err := c.open.Sampler(ctx)
	if err != nil {
		msg := messageFor(err, "Emotion detector failed")
		c.logger.WithError(err).Warn("Emotion sampling disabled")
		c.emitError(msg)
		return
	}
	c.sampler = sampler
	if err := c.emitter.EmotionReady(); err != nil {
		c.logger.WithError(err).Error("Failed to emit emotion ready event")
	}
}

func (c *DetectionCycle) loop(ctx context.Context) error {
	c.transition(StateRunning)

	for {
		if ctx.Err() != nil {
			return c.interrupt(ctx.Err())
		}

		frame, err := c.source.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return c.interrupt(ctx.Err())
			}
			return c.fail(Fatal("Failed to read from camera", fmt.Errorf("%w: %v", ErrFrameRead, err)))
		}

		candidates, err := c.backend.Detect(ctx, frame)
		if err != nil {
			if ctx.Err() != nil {
				return c.interrupt(ctx.Err())
			}
			return c.fail(classify(err, "Detection failed"))
		}

		humans := c.enrich(ctx, frame, candidates)

		if len(humans) > 0 {
			c.show(ctx, frame, humans)
			result := NewResult(humans, c.now())
			if err := c.emitter.Detected(result); err != nil {
				c.transition(StateError)
				return fmt.Errorf("emit result: %w", err)
			}
			c.result = result
			c.transition(StateEmitted)
			c.logger.WithField("count", result.Count).Info("Humans detected, result emitted")
			return nil
		}

		if !c.show(ctx, frame, nil) {
			return c.interrupt(errors.New("preview closed by operator"))
		}

		if err := sleepContext(ctx, c.cfg.Pacing); err != nil {
			return c.interrupt(err)
		}
	}
}

// enrich converts candidates to humans, sampling emotion on throttle-eligible ones
func (c *DetectionCycle) enrich(ctx context.Context, frame *Frame, candidates []Candidate) []Human {
	humans := make([]Human, 0, len(candidates))
	for _, cand := range candidates {
		h := Human{ID: cand.ID, BBox: cand.BBox, Confidence: cand.Confidence}
		if c.sampler != nil && c.throttle.Next() {
			sample := c.sampler.Sample(ctx, frame, cand.BBox)
			h.Emotion = sample.Estimate
			entry := c.logger.WithFields(log.Fields{
				"candidate": cand.ID,
				"outcome":   sample.Outcome.String(),
				"counter":   c.throttle.Count(),
			})
			if sample.Err != nil {
				entry = entry.WithError(sample.Err)
			}
			entry.Debug("Emotion sampled")
		}
		humans = append(humans, h)
	}
	return humans
}

// show renders the preview; returns false when the operator asked to quit
func (c *DetectionCycle) show(ctx context.Context, frame *Frame, humans []Human) bool {
	if c.display == nil || frame.Image == nil {
		return true
	}
	img := frame.Image
	if c.annotate != nil && len(humans) > 0 {
		img = c.annotate(frame.Image, humans)
	}
	keep, err := c.display.Show(ctx, img)
	if err != nil {
		c.logger.WithError(err).Warn("Preview failed, disabling display")
		c.closeDisplay()
		return true
	}
	return keep
}

func (c *DetectionCycle) fail(err error) error {
	var fatal *FatalError
	if !errors.As(err, &fatal) {
		fatal = Fatal(err.Error(), err)
	}
	c.emitError(fatal.Message)
	c.transition(StateError)
	c.logger.WithError(fatal.Err).Error(fatal.Message)
	return fatal
}

func (c *DetectionCycle) interrupt(cause error) error {
	c.transition(StateInterrupted)
	c.logger.WithField("cause", cause).Info("Detection interrupted")
	return fmt.Errorf("%w: %v", ErrInterrupted, cause)
}

func (c *DetectionCycle) emitError(message string) {
	if err := c.emitter.Error(message); err != nil {
		c.logger.WithError(err).Error("Failed to emit error event")
	}
}

func (c *DetectionCycle) transition(next State) {
	c.logger.WithFields(log.Fields{"from": c.state.String(), "to": next.String()}).Debug("State transition")
	c.state = next
}

func (c *DetectionCycle) closeDisplay() {
	if c.display == nil {
		return
	}
	if err := c.display.Close(); err != nil {
		c.logger.WithError(err).Warn("Failed to close display")
	}
	c.display = nil
}

// release closes everything opened during INIT in reverse order
func (c *DetectionCycle) release() {
	c.closeDisplay()
	if c.sampler != nil {
		if err := c.sampler.Close(); err != nil {
			c.logger.WithError(err).Warn("Failed to close emotion sampler")
		}
		c.sampler = nil
	}
	if c.backend != nil {
		if err := c.backend.Close(); err != nil {
			c.logger.WithError(err).Warn("Failed to close detection backend")
		}
		c.backend = nil
	}
	if c.source != nil {
		if err := c.source.Close(); err != nil {
			c.logger.WithError(err).Warn("Failed to close frame source")
		}
		c.source = nil
	}
}

// classify turns an init or detection error into a FatalError, keeping
// adapter-provided messages and prefixing anything else
func classify(err error, prefix string) *FatalError {
	var fatal *FatalError
	if errors.As(err, &fatal) {
		return fatal
	}
	return Fatal(fmt.Sprintf("%s: %v", prefix, err), err)
}

func messageFor(err error, prefix string) string {
	return classify(err, prefix).Message
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

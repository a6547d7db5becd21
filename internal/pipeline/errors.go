package pipeline

import "errors"

// Error taxonomy shared by all adapters. Adapters wrap these with %w and the
// cycle classifies them with errors.Is.
var (
	// ErrDeviceUnavailable means the frame source could not be opened
	ErrDeviceUnavailable = errors.New("device unavailable")
	// ErrModelUnavailable means the chosen detection backend could not load its model
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrFrameRead means the source produced no frame
	ErrFrameRead = errors.New("failed to read frame")
	// ErrEmotionInit means the emotion sampler failed its startup probe
	ErrEmotionInit = errors.New("emotion sampler initialization failed")
	// ErrEmotionInference is a per-candidate emotion failure; never fatal
	ErrEmotionInference = errors.New("emotion inference failed")
	// ErrInterrupted means the run was cancelled before a result was emitted
	ErrInterrupted = errors.New("interrupted")
)

// FatalError carries the exact message that is emitted as an error event
type FatalError struct {
	Message string
	Err     error
}

func (e *FatalError) Error() string {
	return e.Message
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal wraps err with the message to report to consumers
func Fatal(message string, err error) *FatalError {
	return &FatalError{Message: message, Err: err}
}

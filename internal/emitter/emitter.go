package emitter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"pepperbot/internal/pipeline"

	log "github.com/sirupsen/logrus"
)

// Sink receives one encoded event per call. Implementations must deliver the
// line before returning.
type Sink interface {
	WriteEvent(line []byte) error
	Close() error
}

type readyEvent struct {
	Status string `json:"status"`
	Method string `json:"method"`
}

type statusEvent struct {
	Status string `json:"status"`
}

type errorEvent struct {
	Error string `json:"error"`
}

// Event status values
const (
	StatusReady        = "ready"
	StatusEmotionReady = "emotion_detector_ready"
	StatusDetected     = "detected"
)

// Emitter encodes pipeline events as single-line JSON objects
type Emitter struct {
	sink   Sink
	mu     sync.Mutex
	count  int
	logger *log.Entry
}

// New creates an emitter writing to sink
func New(sink Sink) *Emitter {
	return &Emitter{
		sink:   sink,
		logger: log.WithField("component", "emitter"),
	}
}

// Ready reports a successfully initialized backend
func (e *Emitter) Ready(method string) error {
	return e.emit(readyEvent{Status: StatusReady, Method: method})
}

// EmotionReady reports that emotion sampling is available
func (e *Emitter) EmotionReady() error {
	return e.emit(statusEvent{Status: StatusEmotionReady})
}

// Error reports a failure; message is written verbatim
func (e *Emitter) Error(message string) error {
	return e.emit(errorEvent{Error: message})
}

// Detected writes the terminal result
func (e *Emitter) Detected(result *pipeline.Result) error {
	return e.emit(result)
}

// Count returns the number of events written
func (e *Emitter) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.count
}

func (e *Emitter) emit(event interface{}) error {
	line, err := Encode(event)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.sink.WriteEvent(line); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	e.count++
	e.logger.WithField("event", string(bytes.TrimSpace(line))).Debug("Event emitted")
	return nil
}

// Encode renders event as compact JSON terminated by a newline. HTML
// characters are not escaped so messages such as shell hints stay readable.
func Encode(event interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(event); err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return buf.Bytes(), nil
}

// Close closes the sink
func (e *Emitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sink.Close()
}

var _ pipeline.Emitter = (*Emitter)(nil)

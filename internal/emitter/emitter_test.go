package emitter

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"pepperbot/internal/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lines(buf *bytes.Buffer) []string {
	return strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
}

func TestEmitterEventShapes(t *testing.T) {
	var buf bytes.Buffer
	e := New(NewWriterSink(&buf))

	require.NoError(t, e.Ready("yolo"))
	require.NoError(t, e.EmotionReady())
	require.NoError(t, e.Error("MobileNet model not found. Please run: cd models && bash download_models.sh"))

	assert.Equal(t, []string{
		`{"status":"ready","method":"yolo"}`,
		`{"status":"emotion_detector_ready"}`,
		`{"error":"MobileNet model not found. Please run: cd models && bash download_models.sh"}`,
	}, lines(&buf))
	assert.Equal(t, 3, e.Count())
}

func TestEmitterDetectedResult(t *testing.T) {
	var buf bytes.Buffer
	e := New(NewWriterSink(&buf))

	at := time.Date(2026, 1, 7, 11, 0, 0, 500000000, time.UTC)
	result := pipeline.NewResult([]pipeline.Human{
		{ID: 0, BBox: pipeline.BoundingBox{X: 1, Y: 2, Width: 30, Height: 60}, Confidence: 0.87},
		{
			ID: 1, BBox: pipeline.BoundingBox{X: 40, Y: 5, Width: 20, Height: 50}, Confidence: 0.6,
			Emotion: &pipeline.EmotionEstimate{
				Label: "happy", Confidence: 0.9,
				Scores: map[string]float64{"happy": 0.9, "sad": 0.1},
				Note:   pipeline.NoteLowConfidenceFace,
			},
		},
	}, at)
	require.NoError(t, e.Detected(result))

	want := `{"status":"detected","count":2,"humans":[` +
		`{"id":0,"bbox":{"x":1,"y":2,"width":30,"height":60},"confidence":0.87},` +
		`{"id":1,"bbox":{"x":40,"y":5,"width":20,"height":50},"confidence":0.6,` +
		`"emotion":{"label":"happy","confidence":0.9,"scores":{"happy":0.9,"sad":0.1},"note":"low_confidence_face"}}],` +
		`"timestamp":"2026-01-07T11:00:00.500000Z"}`
	assert.Equal(t, []string{want}, lines(&buf))
}

type failingSink struct{ closed bool }

func (f *failingSink) WriteEvent([]byte) error { return errors.New("broken pipe") }
func (f *failingSink) Close() error {
	f.closed = true
	return nil
}

func TestEmitterSinkFailure(t *testing.T) {
	sink := &failingSink{}
	e := New(sink)

	err := e.Ready("hog")
	assert.ErrorContains(t, err, "broken pipe")
	assert.Zero(t, e.Count())

	require.NoError(t, e.Close())
	assert.True(t, sink.closed)
}

type fakeToken struct {
	done chan struct{}
	err  error
}

func (f *fakeToken) Wait() bool                       { <-f.done; return true }
func (f *fakeToken) WaitTimeout(d time.Duration) bool { return true }
func (f *fakeToken) Done() <-chan struct{}            { return f.done }
func (f *fakeToken) Error() error                     { return f.err }

func TestWaitToken(t *testing.T) {
	done := make(chan struct{})
	close(done)
	assert.NoError(t, waitToken(context.Background(), &fakeToken{done: done}, time.Second))

	failed := &fakeToken{done: done, err: errors.New("not authorized")}
	assert.ErrorContains(t, waitToken(context.Background(), failed, time.Second), "not authorized")

	pending := &fakeToken{done: make(chan struct{})}
	assert.ErrorContains(t, waitToken(context.Background(), pending, 10*time.Millisecond), "timeout")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, waitToken(ctx, pending, time.Second), context.Canceled)
}

func TestMQTTSinkUnreachableBroker(t *testing.T) {
	_, err := NewMQTTSink(context.Background(), MQTTConfig{
		Broker:  "127.0.0.1:1",
		Topic:   "pepper/perception",
		QoS:     1,
		Timeout: 2 * time.Second,
	})
	assert.Error(t, err)
}

func TestMQTTSinkRejectsBadQoS(t *testing.T) {
	_, err := NewMQTTSink(context.Background(), MQTTConfig{Broker: "tcp://localhost:1883", QoS: 3})
	assert.ErrorContains(t, err, "qos")
}

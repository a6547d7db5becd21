package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, Default(), *cfg)
	assert.Equal(t, "mobilenet", cfg.Method)
	assert.Equal(t, 100*time.Millisecond, cfg.Pacing)
	assert.Equal(t, []string{"python3", "-u", "workers/emotion_worker.py"}, cfg.Emotion.WorkerCommand)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pepper.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
method: yolo
confidence: 0.35
camera: rtsp://10.0.0.5/stream
enable_emotion_detection: true
emotion_interval: 3
camera_options:
  open_timeout: 2s
output:
  sink: mqtt
  mqtt:
    topic: robot/events
`), 0o644))

	t.Setenv("PEPPER_EMOTION_INTERVAL", "5")
	t.Setenv("PEPPER_INFERENCE_ENDPOINT", "http://gpu-box:5002")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "yolo", cfg.Method)
	assert.Equal(t, 0.35, cfg.Confidence)
	assert.Equal(t, "rtsp://10.0.0.5/stream", cfg.Camera)
	assert.True(t, cfg.EnableEmotionDetection)
	assert.Equal(t, 5, cfg.EmotionInterval, "environment wins over file")
	assert.Equal(t, 2*time.Second, cfg.CameraOptions.OpenTimeout)
	assert.Equal(t, 640, cfg.CameraOptions.Width, "unset nested keys keep defaults")
	assert.Equal(t, "http://gpu-box:5002", cfg.Inference.Endpoint)
	assert.Equal(t, SinkMQTT, cfg.Output.Sink)
	assert.Equal(t, "robot/events", cfg.Output.MQTT.Topic)
	assert.Equal(t, "tcp://localhost:1883", cfg.Output.MQTT.Broker)
}

func TestLoadBoundFlags(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("method", "", "")
	fs.Float64("confidence", 0, "")
	require.NoError(t, fs.Parse([]string{"--method", "hog", "--confidence", "0.7"}))

	v := viper.New()
	require.NoError(t, v.BindPFlag("method", fs.Lookup("method")))
	require.NoError(t, v.BindPFlag("confidence", fs.Lookup("confidence")))

	cfg, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, "hog", cfg.Method)
	assert.Equal(t, 0.7, cfg.Confidence)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "read config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown method", func(c *Config) { c.Method = "ssd" }, "unknown detection method"},
		{"confidence above one", func(c *Config) { c.Confidence = 1.2 }, "confidence"},
		{"negative confidence", func(c *Config) { c.Confidence = -0.1 }, "confidence"},
		{"zero interval", func(c *Config) { c.EmotionInterval = 0 }, "emotion_interval"},
		{"empty camera", func(c *Config) { c.Camera = " " }, "camera is required"},
		{"unknown engine", func(c *Config) { c.Inference.Engine = "tpu" }, "inference.engine"},
		{"unknown emotion backend", func(c *Config) { c.Emotion.Backend = "rest" }, "emotion.backend"},
		{"unknown preview", func(c *Config) { c.Preview.Kind = "vnc" }, "preview.kind"},
		{"unknown sink", func(c *Config) { c.Output.Sink = "kafka" }, "output.sink"},
		{"worker without command", func(c *Config) {
			c.EnableEmotionDetection = true
			c.Emotion.WorkerCommand = nil
		}, "worker_command"},
		{"bad qos", func(c *Config) { c.Output.MQTT.QoS = 3 }, "qos"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, ErrInvalid)
			assert.ErrorContains(t, err, tt.want)
		})
	}

	cfg := Default()
	cfg.Confidence = 1
	assert.NoError(t, cfg.Validate(), "bounds are inclusive")
}

func TestWriteExampleLoadsBack(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteExample(&buf))
	assert.Contains(t, buf.String(), "open_timeout: 5s")

	path := filepath.Join(t.TempDir(), "example.yaml")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
}

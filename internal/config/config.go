package config

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"pepperbot/internal/detection"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g. PEPPER_METHOD
const EnvPrefix = "PEPPER"

// Inference engines
const (
	EngineRemote = "remote"
	EngineOpenCV = "opencv"
)

// Emotion analyzer backends
const (
	EmotionWorker = "worker"
	EmotionGRPC   = "grpc"
)

// Preview kinds
const (
	PreviewStream = "stream"
	PreviewWindow = "window"
)

// Event sinks
const (
	SinkStdout = "stdout"
	SinkMQTT   = "mqtt"
)

// ErrInvalid wraps every validation failure
var ErrInvalid = errors.New("invalid configuration")

// Config is the full detect-human configuration
type Config struct {
	Method                 string        `mapstructure:"method" yaml:"method"`
	Confidence             float64       `mapstructure:"confidence" yaml:"confidence"`
	Camera                 string        `mapstructure:"camera" yaml:"camera"`
	Display                bool          `mapstructure:"display" yaml:"display"`
	EnableEmotionDetection bool          `mapstructure:"enable_emotion_detection" yaml:"enable_emotion_detection"`
	EmotionInterval        int           `mapstructure:"emotion_interval" yaml:"emotion_interval"`
	Pacing                 time.Duration `mapstructure:"pacing" yaml:"pacing"`
	LogLevel               string        `mapstructure:"log_level" yaml:"log_level"`

	CameraOptions CameraOptions `mapstructure:"camera_options" yaml:"camera_options"`
	Inference     Inference     `mapstructure:"inference" yaml:"inference"`
	Emotion       Emotion       `mapstructure:"emotion" yaml:"emotion"`
	Preview       Preview       `mapstructure:"preview" yaml:"preview"`
	Output        Output        `mapstructure:"output" yaml:"output"`
}

// CameraOptions tune the frame source
type CameraOptions struct {
	Backend     string        `mapstructure:"backend" yaml:"backend"`
	Width       int           `mapstructure:"width" yaml:"width"`
	Height      int           `mapstructure:"height" yaml:"height"`
	FPS         int           `mapstructure:"fps" yaml:"fps"`
	OpenTimeout time.Duration `mapstructure:"open_timeout" yaml:"open_timeout"`
}

// Inference selects where detector models run
type Inference struct {
	Engine    string        `mapstructure:"engine" yaml:"engine"`
	Endpoint  string        `mapstructure:"endpoint" yaml:"endpoint"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	ModelsDir string        `mapstructure:"models_dir" yaml:"models_dir"`
}

// Emotion selects the facial emotion analyzer
type Emotion struct {
	Backend       string        `mapstructure:"backend" yaml:"backend"`
	WorkerCommand []string      `mapstructure:"worker_command" yaml:"worker_command"`
	Endpoint      string        `mapstructure:"endpoint" yaml:"endpoint"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Preview selects the operator display
type Preview struct {
	Kind string `mapstructure:"kind" yaml:"kind"`
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// Output selects where events go
type Output struct {
	Sink string `mapstructure:"sink" yaml:"sink"`
	MQTT MQTT   `mapstructure:"mqtt" yaml:"mqtt"`
}

// MQTT broker settings for the mqtt sink
type MQTT struct {
	Broker string `mapstructure:"broker" yaml:"broker"`
	Topic  string `mapstructure:"topic" yaml:"topic"`
	QoS    int    `mapstructure:"qos" yaml:"qos"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Method:          string(detection.MethodMobileNet),
		Confidence:      0.5,
		Camera:          "0",
		Display:         true,
		EmotionInterval: 1,
		Pacing:          100 * time.Millisecond,
		LogLevel:        "info",
		CameraOptions: CameraOptions{
			Backend:     "auto",
			Width:       640,
			Height:      480,
			FPS:         15,
			OpenTimeout: 5 * time.Second,
		},
		Inference: Inference{
			Engine:    EngineRemote,
			Endpoint:  "http://localhost:5002",
			Timeout:   15 * time.Second,
			ModelsDir: "models",
		},
		Emotion: Emotion{
			Backend:       EmotionWorker,
			WorkerCommand: []string{"python3", "-u", "workers/emotion_worker.py"},
			Endpoint:      "localhost:50051",
			Timeout:       10 * time.Second,
		},
		Preview: Preview{
			Kind: PreviewStream,
			Addr: "127.0.0.1:8090",
		},
		Output: Output{
			Sink: SinkStdout,
			MQTT: MQTT{
				Broker: "tcp://localhost:1883",
				Topic:  "pepper/perception",
				QoS:    1,
			},
		},
	}
}

// SetDefaults registers every key so env overrides and Unmarshal see them
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("method", d.Method)
	v.SetDefault("confidence", d.Confidence)
	v.SetDefault("camera", d.Camera)
	v.SetDefault("display", d.Display)
	v.SetDefault("enable_emotion_detection", d.EnableEmotionDetection)
	v.SetDefault("emotion_interval", d.EmotionInterval)
	v.SetDefault("pacing", d.Pacing)
	v.SetDefault("log_level", d.LogLevel)

	v.SetDefault("camera_options.backend", d.CameraOptions.Backend)
	v.SetDefault("camera_options.width", d.CameraOptions.Width)
	v.SetDefault("camera_options.height", d.CameraOptions.Height)
	v.SetDefault("camera_options.fps", d.CameraOptions.FPS)
	v.SetDefault("camera_options.open_timeout", d.CameraOptions.OpenTimeout)

	v.SetDefault("inference.engine", d.Inference.Engine)
	v.SetDefault("inference.endpoint", d.Inference.Endpoint)
	v.SetDefault("inference.timeout", d.Inference.Timeout)
	v.SetDefault("inference.models_dir", d.Inference.ModelsDir)

	v.SetDefault("emotion.backend", d.Emotion.Backend)
	v.SetDefault("emotion.worker_command", d.Emotion.WorkerCommand)
	v.SetDefault("emotion.endpoint", d.Emotion.Endpoint)
	v.SetDefault("emotion.timeout", d.Emotion.Timeout)

	v.SetDefault("preview.kind", d.Preview.Kind)
	v.SetDefault("preview.addr", d.Preview.Addr)

	v.SetDefault("output.sink", d.Output.Sink)
	v.SetDefault("output.mqtt.broker", d.Output.MQTT.Broker)
	v.SetDefault("output.mqtt.topic", d.Output.MQTT.Topic)
	v.SetDefault("output.mqtt.qos", d.Output.MQTT.QoS)
}

// Load reads defaults, the optional YAML file at path and PEPPER_* variables into a Config.
// Flags should already be bound on v.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and closed name sets
func (c *Config) Validate() error {
	if _, err := detection.ParseMethod(c.Method); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return fmt.Errorf("%w: confidence must be within [0, 1], got %g", ErrInvalid, c.Confidence)
	}
	if c.EmotionInterval < 1 {
		return fmt.Errorf("%w: emotion_interval must be at least 1, got %d", ErrInvalid, c.EmotionInterval)
	}
	if c.Pacing < 0 {
		return fmt.Errorf("%w: pacing must not be negative", ErrInvalid)
	}
	if strings.TrimSpace(c.Camera) == "" {
		return fmt.Errorf("%w: camera is required", ErrInvalid)
	}

	checks := []struct {
		key, value string
		valid      []string
	}{
		{"camera_options.backend", c.CameraOptions.Backend, []string{"auto", "ffmpeg", "snapshot", "opencv"}},
		{"inference.engine", c.Inference.Engine, []string{EngineRemote, EngineOpenCV}},
		{"emotion.backend", c.Emotion.Backend, []string{EmotionWorker, EmotionGRPC}},
		{"preview.kind", c.Preview.Kind, []string{PreviewStream, PreviewWindow}},
		{"output.sink", c.Output.Sink, []string{SinkStdout, SinkMQTT}},
	}
	for _, ch := range checks {
		if !slices.Contains(ch.valid, ch.value) {
			return fmt.Errorf("%w: %s %q (valid: %s)", ErrInvalid, ch.key, ch.value, strings.Join(ch.valid, ", "))
		}
	}

	if c.EnableEmotionDetection && c.Emotion.Backend == EmotionWorker && len(c.Emotion.WorkerCommand) == 0 {
		return fmt.Errorf("%w: emotion.worker_command is required for the worker backend", ErrInvalid)
	}
	if c.Output.Sink == SinkMQTT && c.Output.MQTT.Broker == "" {
		return fmt.Errorf("%w: output.mqtt.broker is required for the mqtt sink", ErrInvalid)
	}
	if c.Output.MQTT.QoS < 0 || c.Output.MQTT.QoS > 2 {
		return fmt.Errorf("%w: output.mqtt.qos must be 0, 1 or 2", ErrInvalid)
	}
	return nil
}

// WriteExample renders the defaults as a YAML config file
func WriteExample(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(Default()); err != nil {
		return fmt.Errorf("encode example config: %w", err)
	}
	return enc.Close()
}


package main

import (
	"errors"
	"io"
	"os"

	"pepperbot/internal/config"
	"pepperbot/internal/emitter"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// errReported marks failures already written to the event stream
var errReported = errors.New("reported")

// Version is the application version
const Version = "0.3.0"

func newRootCmd(stdout io.Writer) *cobra.Command {
	v := viper.New()
	var (
		configPath string
		debug      bool
		noDisplay  bool
	)

	cmd := &cobra.Command{
		Use:           "detect-human",
		Short:         "Human presence and emotion detection for Pepper",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, configPath)
			if err != nil {
				reportConfigError(stdout, err)
				return errReported
			}
			if noDisplay {
				cfg.Display = false
			}
			setupLogging(cfg.LogLevel, debug)
			return run(cmd.Context(), cfg, stdout)
		},
	}
	cmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	flags := cmd.Flags()
	flags.String("method", "mobilenet", "Detection method: hog, mobilenet or yolo")
	flags.Float64("confidence", 0.5, "Confidence threshold (0.0-1.0)")
	flags.String("camera", "0", "Camera source: device index, device path, RTSP/HTTP URL or file")
	flags.BoolVar(&noDisplay, "no-display", false, "Disable the preview")
	flags.Bool("emotion", false, "Enable emotion detection")
	flags.Int("emotion-interval", 1, "Detect emotion every N detections")
	flags.String("engine", config.EngineRemote, "Inference engine: remote or opencv")
	flags.String("preview", config.PreviewStream, "Preview kind: stream or window")
	flags.String("sink", config.SinkStdout, "Event sink: stdout or mqtt")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file")
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	bindings := map[string]string{
		"method":                   "method",
		"confidence":               "confidence",
		"camera":                   "camera",
		"enable_emotion_detection": "emotion",
		"emotion_interval":         "emotion-interval",
		"inference.engine":         "engine",
		"preview.kind":             "preview",
		"output.sink":              "sink",
	}
	for key, name := range bindings {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			log.WithError(err).Fatalf("Failed to bind flag %s", name)
		}
	}

	cmd.AddCommand(newConfigCmd())
	return cmd
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print an example configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.WriteExample(cmd.OutOrStdout())
		},
	}
}

// setupLogging keeps stdout free for events
func setupLogging(level string, debug bool) {
	log.SetOutput(os.Stderr)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.WithField("log_level", level).Warn("Unknown log level, using info")
		lvl = log.InfoLevel
	}
	if debug {
		lvl = log.DebugLevel
	}
	log.SetLevel(lvl)
}

// reportConfigError writes the failure as an error event so consumers see it
func reportConfigError(stdout io.Writer, err error) {
	log.WithError(err).Error("Invalid configuration")
	em := emitter.New(emitter.NewWriterSink(stdout))
	if emitErr := em.Error(err.Error()); emitErr != nil {
		log.WithError(emitErr).Error("Failed to emit error event")
	}
	em.Close()
}

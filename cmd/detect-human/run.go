package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"pepperbot/internal/camera"
	"pepperbot/internal/config"
	"pepperbot/internal/detection"
	"pepperbot/internal/emitter"
	"pepperbot/internal/emotion"
	"pepperbot/internal/pipeline"
	"pepperbot/internal/stream"

	log "github.com/sirupsen/logrus"
)

// run executes one detection cycle. Interruption is a clean exit; fatal
// errors have already been emitted and map to errReported.
func run(ctx context.Context, cfg *config.Config, stdout io.Writer) error {
	logger := log.WithField("component", "cycle")

	sink, err := openSink(ctx, cfg, stdout)
	if err != nil {
		reportConfigError(stdout, err)
		return errReported
	}
	em := emitter.New(sink)
	defer func() {
		if err := em.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close event sink")
		}
	}()

	cycle := pipeline.NewDetectionCycle(
		pipeline.CycleConfig{
			Method:          cfg.Method,
			EmotionEnabled:  cfg.EnableEmotionDetection,
			EmotionInterval: cfg.EmotionInterval,
			Display:         cfg.Display,
			Pacing:          cfg.Pacing,
		},
		buildOpeners(cfg),
		em,
		pipeline.WithAnnotator(stream.Annotate),
		pipeline.WithLogger(logger),
	)

	err = cycle.Run(ctx)
	var fatal *pipeline.FatalError
	switch {
	case err == nil:
		logger.WithField("events", em.Count()).Info("Detection complete")
		return nil
	case errors.Is(err, pipeline.ErrInterrupted):
		logger.Info("Detection stopped before any human was seen")
		return nil
	case errors.As(err, &fatal):
		return errReported
	default:
		return err
	}
}

func openSink(ctx context.Context, cfg *config.Config, stdout io.Writer) (emitter.Sink, error) {
	switch cfg.Output.Sink {
	case config.SinkMQTT:
		return emitter.NewMQTTSink(ctx, emitter.MQTTConfig{
			Broker: cfg.Output.MQTT.Broker,
			Topic:  cfg.Output.MQTT.Topic,
			QoS:    byte(cfg.Output.MQTT.QoS),
		})
	default:
		return emitter.NewWriterSink(stdout), nil
	}
}

// buildOpeners defers every device and model to the cycle's INIT state
func buildOpeners(cfg *config.Config) pipeline.Openers {
	return pipeline.Openers{
		Source: func(ctx context.Context) (pipeline.FrameSource, error) {
			return camera.Open(ctx, camera.Config{
				ID:          cfg.Camera,
				Backend:     cfg.CameraOptions.Backend,
				Width:       cfg.CameraOptions.Width,
				Height:      cfg.CameraOptions.Height,
				FPS:         cfg.CameraOptions.FPS,
				OpenTimeout: cfg.CameraOptions.OpenTimeout,
			})
		},
		Backend: func(ctx context.Context) (pipeline.DetectionBackend, error) {
			method, err := detection.ParseMethod(cfg.Method)
			if err != nil {
				return nil, err
			}
			engine, err := openEngine(cfg)
			if err != nil {
				return nil, err
			}
			opts := detection.DefaultOptions()
			opts.Confidence = cfg.Confidence
			backend, err := detection.New(ctx, method, engine, opts)
			if err != nil {
				engine.Close()
				return nil, err
			}
			return backend, nil
		},
		Sampler: func(ctx context.Context) (pipeline.EmotionSampler, error) {
			analyzer, err := openAnalyzer(ctx, cfg)
			if err != nil {
				return nil, err
			}
			sampler, err := emotion.NewSampler(ctx, analyzer)
			if err != nil {
				analyzer.Close()
				return nil, err
			}
			return sampler, nil
		},
		Display: func(ctx context.Context) (pipeline.Display, error) {
			return openDisplay(ctx, cfg)
		},
	}
}

func openEngine(cfg *config.Config) (detection.Engine, error) {
	switch cfg.Inference.Engine {
	case config.EngineOpenCV:
		return detection.NewOpenCVEngine(cfg.Inference.ModelsDir)
	default:
		return detection.NewRemoteEngine(detection.RemoteConfig{
			Endpoint: cfg.Inference.Endpoint,
			Timeout:  cfg.Inference.Timeout,
		}), nil
	}
}

func openAnalyzer(ctx context.Context, cfg *config.Config) (emotion.Analyzer, error) {
	switch cfg.Emotion.Backend {
	case config.EmotionGRPC:
		return emotion.NewGRPCAnalyzer(emotion.GRPCConfig{
			Endpoint: cfg.Emotion.Endpoint,
			Timeout:  cfg.Emotion.Timeout,
		})
	default:
		return emotion.StartWorker(ctx, emotion.WorkerConfig{
			Command: cfg.Emotion.WorkerCommand,
			Timeout: cfg.Emotion.Timeout,
		})
	}
}

// openDisplay starts the preview. The window kind also keeps the stream
// server running so remote operators can watch.
func openDisplay(ctx context.Context, cfg *config.Config) (pipeline.Display, error) {
	server, err := stream.NewPreviewServer(cfg.Preview.Addr)
	if err != nil {
		return nil, fmt.Errorf("open preview: %w", err)
	}
	if cfg.Preview.Kind != config.PreviewWindow {
		return server, nil
	}

	window, err := stream.NewWindow(ctx)
	if err != nil {
		log.WithField("component", "preview").WithError(err).Warn("Window unavailable, streaming only")
		return server, nil
	}
	return stream.NewCompositeDisplay(window, server), nil
}

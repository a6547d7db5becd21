package detection

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pepperbot/internal/pipeline"

	log "github.com/sirupsen/logrus"
)

// Method identifies a person-detection backend
type Method string

const (
	MethodHOG       Method = "hog"
	MethodMobileNet Method = "mobilenet"
	MethodYOLO      Method = "yolo"
)

// ErrUnknownMethod is returned for method names outside the closed set
var ErrUnknownMethod = errors.New("unknown detection method")

// Methods lists every supported method
func Methods() []Method {
	return []Method{MethodHOG, MethodMobileNet, MethodYOLO}
}

// ParseMethod validates a method name
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case MethodHOG, MethodMobileNet, MethodYOLO:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q (valid: hog, mobilenet, yolo)", ErrUnknownMethod, s)
	}
}

// MissingModelMessage is the operator-facing message for absent model artifacts.
// HOG ships with the library and has none.
func (m Method) MissingModelMessage() string {
	switch m {
	case MethodMobileNet:
		return "MobileNet model not found. Please run: cd models && bash download_models.sh"
	case MethodYOLO:
		return "YOLO model not found. Please run: cd models && bash download_models.sh"
	default:
		return ""
	}
}

// Options tune candidate filtering
type Options struct {
	Confidence   float64   // Minimum accepted confidence [0, 1]
	NMSThreshold float64   // YOLO IoU suppression threshold
	HOG          HOGParams // Sliding window parameters for HOG
}

// DefaultOptions mirror the classic detector settings
func DefaultOptions() Options {
	return Options{
		Confidence:   0.5,
		NMSThreshold: DefaultNMSThreshold,
		HOG:          DefaultHOGParams(),
	}
}

// New loads the method's model on engine and returns the matching backend
func New(ctx context.Context, method Method, engine Engine, opts Options) (pipeline.DetectionBackend, error) {
	if opts.NMSThreshold <= 0 {
		opts.NMSThreshold = DefaultNMSThreshold
	}
	if opts.HOG.WinStride <= 0 {
		opts.HOG = DefaultHOGParams()
	}

	if err := engine.Load(ctx, method); err != nil {
		if errors.Is(err, pipeline.ErrModelUnavailable) && method.MissingModelMessage() != "" {
			return nil, pipeline.Fatal(method.MissingModelMessage(), err)
		}
		return nil, fmt.Errorf("load %s model: %w", method, err)
	}

	logger := log.WithFields(log.Fields{"component": "detection", "method": string(method)})
	logger.WithField("confidence", opts.Confidence).Info("Detector initialized")

	switch method {
	case MethodHOG:
		return &HOGBackend{engine: engine, opts: opts, logger: logger}, nil
	case MethodMobileNet:
		return &MobileNetBackend{engine: engine, opts: opts, logger: logger}, nil
	case MethodYOLO:
		return &YOLOBackend{engine: engine, opts: opts, logger: logger}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
}

// accept applies the threshold to both the raw and the reported (rounded) score,
// so no emitted confidence is ever below the threshold
func accept(conf, threshold float64) bool {
	return conf >= threshold && pipeline.Round2(conf) >= threshold
}

package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"strconv"
	"strings"
	"time"

	"pepperbot/internal/pipeline"
)

// Capture backends
const (
	BackendAuto     = "auto"
	BackendFFmpeg   = "ffmpeg"
	BackendSnapshot = "snapshot"
	BackendOpenCV   = "opencv"
)

// ErrClosed is returned by Read after Close
var ErrClosed = errors.New("camera closed")

// Config describes the camera to open
type Config struct {
	ID          string        // Device index ("0"), device path, or URL
	Backend     string        // auto, ffmpeg, snapshot or opencv
	Width       int           // Requested capture width (local devices only)
	Height      int           // Requested capture height (local devices only)
	FPS         int           // Requested frame rate
	OpenTimeout time.Duration // Deadline for the first frame
}

// DefaultConfig returns the settings used for a local webcam
func DefaultConfig() Config {
	return Config{
		ID:          "0",
		Backend:     BackendAuto,
		Width:       640,
		Height:      480,
		FPS:         15,
		OpenTimeout: 5 * time.Second,
	}
}

// Open starts the frame source selected by cfg.Backend. Failures are
// reported as "Failed to open camera: <id>" wrapping pipeline.ErrDeviceUnavailable.
func Open(ctx context.Context, cfg Config) (pipeline.FrameSource, error) {
	if cfg.FPS <= 0 {
		cfg.FPS = 15
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 5 * time.Second
	}

	switch resolveBackend(cfg) {
	case BackendSnapshot:
		s, err := OpenSnapshot(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendOpenCV:
		return OpenOpenCV(ctx, cfg)
	case BackendFFmpeg:
		s, err := OpenFFmpeg(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown camera backend %q", cfg.Backend)
	}
}

func resolveBackend(cfg Config) string {
	if cfg.Backend != "" && cfg.Backend != BackendAuto {
		return cfg.Backend
	}
	if isSnapshotEndpoint(cfg.ID) {
		return BackendSnapshot
	}
	return BackendFFmpeg
}

// DevicePath maps a numeric camera index to its V4L2 device node
func DevicePath(id string) string {
	if n, err := strconv.Atoi(id); err == nil && n >= 0 {
		return fmt.Sprintf("/dev/video%d", n)
	}
	return id
}

// isNetworkSource checks if device is an HTTP/RTSP URL
func isNetworkSource(device string) bool {
	return strings.HasPrefix(device, "http://") ||
		strings.HasPrefix(device, "https://") ||
		strings.HasPrefix(device, "rtsp://")
}

// isSnapshotEndpoint reports HTTP URLs that serve one JPEG per request
func isSnapshotEndpoint(device string) bool {
	return (strings.HasPrefix(device, "http://") || strings.HasPrefix(device, "https://")) &&
		(strings.Contains(device, ".jpg") || strings.Contains(device, ".jpeg") || strings.Contains(device, "image"))
}

// deviceAccessible checks that a local device node exists and can be opened
func deviceAccessible(device string) error {
	if isNetworkSource(device) {
		return nil // verified by the first frame
	}
	file, err := os.OpenFile(device, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	return file.Close()
}

func openError(id string, cause error) error {
	return pipeline.Fatal("Failed to open camera: "+id, fmt.Errorf("%w: %w", pipeline.ErrDeviceUnavailable, cause))
}

func readError(cause error) error {
	return fmt.Errorf("%w: %w", pipeline.ErrFrameRead, cause)
}

// decodeFrame turns an encoded JPEG into a pipeline frame
func decodeFrame(data []byte, seq uint64) (*pipeline.Frame, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame %d: %w", seq, err)
	}
	return pipeline.NewFrame(img, data, seq), nil
}

// encodeFrame is the inverse of decodeFrame, used by sources that capture raw pixels
func encodeFrame(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

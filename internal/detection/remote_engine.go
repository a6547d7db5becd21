package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"pepperbot/internal/pipeline"

	log "github.com/sirupsen/logrus"
)

// RemoteEngine runs raw inference on an HTTP detector service.
// Preprocessing and all post-processing happen locally.
type RemoteEngine struct {
	endpoint    string
	client      *http.Client
	logger      *log.Entry
	healthCheck time.Time
	loaded      map[string]bool
	mu          sync.RWMutex
}

// RemoteHealthResponse is the detector service health payload
type RemoteHealthResponse struct {
	Status string          `json:"status"`
	Device string          `json:"device"`
	Models map[string]bool `json:"models"` // method name -> model loaded
}

// RemoteConfig holds configuration for the remote engine
type RemoteConfig struct {
	Endpoint string
	Timeout  time.Duration
}

// NewRemoteEngine creates a client for the detector service
func NewRemoteEngine(cfg RemoteConfig) *RemoteEngine {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &RemoteEngine{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   log.WithFields(log.Fields{"component": "detection", "engine": "remote"}),
	}
}

// Health fetches the service health report
func (e *RemoteEngine) Health(ctx context.Context) (*RemoteHealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.endpoint+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detector service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detector health check returned status %d", resp.StatusCode)
	}

	var health RemoteHealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}

	e.mu.Lock()
	e.healthCheck = time.Now()
	e.loaded = health.Models
	e.mu.Unlock()
	return &health, nil
}

// Load checks that the service has the method's model loaded
func (e *RemoteEngine) Load(ctx context.Context, method Method) error {
	health, err := e.Health(ctx)
	if err != nil {
		return err
	}
	if !health.Models[string(method)] {
		return fmt.Errorf("%w: service at %s has no %s model", pipeline.ErrModelUnavailable, e.endpoint, method)
	}
	e.logger.WithFields(log.Fields{"method": string(method), "device": health.Device}).Info("Remote model available")
	return nil
}

// IsHealthy reports whether the last health check is recent and successful
func (e *RemoteEngine) IsHealthy() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.healthCheck.IsZero() && time.Since(e.healthCheck) < 30*time.Second
}

// DetectPeople uploads a grayscale PNG and returns the raw boxes and weights
func (e *RemoteEngine) DetectPeople(ctx context.Context, frame *pipeline.Frame, params HOGParams) (*HOGOutput, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	fw, err := w.CreateFormFile("file", "frame.png")
	if err != nil {
		return nil, err
	}
	if err := png.Encode(fw, Grayscale(frame.Image)); err != nil {
		return nil, fmt.Errorf("encode grayscale frame: %w", err)
	}
	w.WriteField("win_stride", fmt.Sprintf("%d", params.WinStride))
	w.WriteField("padding", fmt.Sprintf("%d", params.Padding))
	w.WriteField("scale", fmt.Sprintf("%.3f", params.Scale))
	w.Close()

	var out HOGOutput
	if err := e.post(ctx, "/hog/detect", w.FormDataContentType(), nil, &b, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ForwardSSD uploads a 300x300 blob and returns the detection rows
func (e *RemoteEngine) ForwardSSD(ctx context.Context, frame *pipeline.Frame) (*SSDOutput, error) {
	blob := NewBlob(frame.Image, SSDBlobParams())
	var out SSDOutput
	if err := e.postBlob(ctx, "/mobilenet/forward", blob, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ForwardYOLO uploads a 416x416 blob and returns all output layers
func (e *RemoteEngine) ForwardYOLO(ctx context.Context, frame *pipeline.Frame) (*YOLOOutput, error) {
	blob := NewBlob(frame.Image, YOLOBlobParams())
	var out YOLOOutput
	if err := e.postBlob(ctx, "/yolo/forward", blob, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Close releases idle connections
func (e *RemoteEngine) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

func (e *RemoteEngine) postBlob(ctx context.Context, path string, blob *Blob, out any) error {
	headers := map[string]string{BlobShapeHeader: blob.ShapeHeader()}
	return e.post(ctx, path, "application/octet-stream", headers, bytes.NewReader(blob.Bytes()), out)
}

func (e *RemoteEngine) post(ctx context.Context, path, contentType string, headers map[string]string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		e.mu.Lock()
		e.healthCheck = time.Time{}
		e.mu.Unlock()
		return fmt.Errorf("detector request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("detector request %s failed (%d): %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// BlobShapeHeader carries the NCHW shape of an uploaded tensor
const BlobShapeHeader = "X-Blob-Shape"

var _ Engine = (*RemoteEngine)(nil)

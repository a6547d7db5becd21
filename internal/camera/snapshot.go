package camera

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"pepperbot/internal/pipeline"

	log "github.com/sirupsen/logrus"
)

// SnapshotSource polls an HTTP endpoint that returns one JPEG per request,
// such as an IP camera snapshot URL
type SnapshotSource struct {
	url      string
	client   *http.Client
	interval time.Duration
	last     time.Time
	seq      uint64
	logger   *log.Entry
	closed   atomic.Bool
}

// OpenSnapshot verifies that cfg.ID serves a decodable image
func OpenSnapshot(ctx context.Context, cfg Config) (*SnapshotSource, error) {
	interval := time.Second / time.Duration(cfg.FPS)
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	s := &SnapshotSource{
		url:      cfg.ID,
		client:   &http.Client{Timeout: cfg.OpenTimeout},
		interval: interval,
		logger:   log.WithFields(log.Fields{"component": "camera", "camera": cfg.ID}),
	}

	if _, err := s.fetch(ctx); err != nil {
		return nil, openError(cfg.ID, err)
	}
	s.logger.Info("Snapshot camera opened")
	return s, nil
}

// Read fetches the next snapshot, never polling faster than the configured FPS
func (s *SnapshotSource) Read(ctx context.Context) (*pipeline.Frame, error) {
	if s.closed.Load() {
		return nil, readError(ErrClosed)
	}
	if wait := s.interval - time.Since(s.last); wait > 0 {
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	data, err := s.fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, readError(err)
	}
	s.seq++
	frame, err := decodeFrame(data, s.seq)
	if err != nil {
		return nil, readError(err)
	}
	return frame, nil
}

func (s *SnapshotSource) fetch(ctx context.Context) ([]byte, error) {
	s.last = time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching frame from %s: %w", s.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot endpoint returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading frame: %w", err)
	}
	if _, err := decodeFrame(data, 0); err != nil {
		return nil, err
	}
	return data, nil
}

// Close releases idle connections; later reads fail with ErrClosed
func (s *SnapshotSource) Close() error {
	s.closed.Store(true)
	s.client.CloseIdleConnections()
	return nil
}

var _ pipeline.FrameSource = (*SnapshotSource)(nil)

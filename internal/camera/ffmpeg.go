package camera

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"pepperbot/internal/pipeline"

	log "github.com/sirupsen/logrus"
)

// FFmpegSource reads an MJPEG stream from an ffmpeg subprocess.
// Only the most recent frame is kept; slower consumers skip frames.
type FFmpegSource struct {
	id     string
	cmd    *exec.Cmd
	cancel context.CancelFunc
	logger *log.Entry

	frames chan []byte
	done   chan struct{}
	seq    uint64

	mu      sync.Mutex
	readErr error
	dropped uint64
	closed  bool
}

// OpenFFmpeg starts ffmpeg for cfg.ID and waits for the first frame
func OpenFFmpeg(ctx context.Context, cfg Config) (*FFmpegSource, error) {
	device := DevicePath(cfg.ID)
	if err := deviceAccessible(device); err != nil {
		return nil, openError(cfg.ID, err)
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, "ffmpeg", ffmpegArgs(device, cfg)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, openError(cfg.ID, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, openError(cfg.ID, err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, openError(cfg.ID, fmt.Errorf("start ffmpeg: %w", err))
	}

	s := newFFmpegSource(cfg.ID, stdout)
	s.cmd = cmd
	s.cancel = cancel
	go s.logStderr(stderr)

	if err := s.awaitFirstFrame(ctx, cfg.OpenTimeout); err != nil {
		s.Close()
		return nil, openError(cfg.ID, err)
	}
	s.logger.WithField("device", device).Info("Camera opened")
	return s, nil
}

// newFFmpegSource starts the frame splitter on r
func newFFmpegSource(id string, r io.Reader) *FFmpegSource {
	s := &FFmpegSource{
		id:     id,
		logger: log.WithFields(log.Fields{"component": "camera", "camera": id}),
		frames: make(chan []byte, 1),
		done:   make(chan struct{}),
	}
	go s.split(r)
	return s
}

func ffmpegArgs(device string, cfg Config) []string {
	output := []string{
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-r", fmt.Sprintf("%d", cfg.FPS),
		"-q:v", "5",
		"-",
	}

	switch {
	case strings.HasPrefix(device, "rtsp://"):
		return append([]string{"-rtsp_transport", "tcp", "-i", device}, output...)
	case isNetworkSource(device):
		return append([]string{"-i", device}, output...)
	default:
		// V4L2 device (USB camera)
		args := []string{"-f", "v4l2"}
		if cfg.Width > 0 && cfg.Height > 0 {
			args = append(args, "-video_size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height))
		}
		args = append(args, "-framerate", fmt.Sprintf("%d", cfg.FPS), "-i", device)
		return append(args, output...)
	}
}

// split cuts the byte stream into JPEG frames and publishes the latest one
func (s *FFmpegSource) split(r io.Reader) {
	defer close(s.done)

	frameBuffer := make([]byte, 0, 1024*1024)
	chunk := make([]byte, 8192)

	for {
		n, err := r.Read(chunk)
		if n > 0 {
			frameBuffer = append(frameBuffer, chunk[:n]...)
			for {
				frame := extractJPEGFrame(&frameBuffer)
				if frame == nil {
					break
				}
				s.publish(frame)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = errors.New("camera stream ended")
			}
			s.mu.Lock()
			s.readErr = err
			s.mu.Unlock()
			return
		}
	}
}

func (s *FFmpegSource) publish(frame []byte) {
	select {
	case s.frames <- frame:
		return
	default:
	}
	// Replace the stale frame
	select {
	case <-s.frames:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	default:
	}
	select {
	case s.frames <- frame:
	default:
	}
}

func (s *FFmpegSource) awaitFirstFrame(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case data := <-s.frames:
		// Put it back for the first Read
		s.publish(data)
		return nil
	case <-s.done:
		return s.streamErr()
	case <-ctx.Done():
		return fmt.Errorf("no frame within %s: %w", timeout, ctx.Err())
	}
}

// Read returns the most recent frame, blocking until one arrives
func (s *FFmpegSource) Read(ctx context.Context) (*pipeline.Frame, error) {
	if s.isClosed() {
		return nil, readError(ErrClosed)
	}
	select {
	case data := <-s.frames:
		s.seq++
		frame, err := decodeFrame(data, s.seq)
		if err != nil {
			return nil, readError(err)
		}
		return frame, nil
	case <-s.done:
		// Drain a frame that raced with the end of stream
		select {
		case data := <-s.frames:
			s.seq++
			frame, err := decodeFrame(data, s.seq)
			if err != nil {
				return nil, readError(err)
			}
			return frame, nil
		default:
		}
		return nil, readError(s.streamErr())
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *FFmpegSource) streamErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.readErr == nil {
		return errors.New("camera stream ended")
	}
	return s.readErr
}

func (s *FFmpegSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Dropped returns how many frames were replaced before being read
func (s *FFmpegSource) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *FFmpegSource) logStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		s.logger.Trace(scanner.Text())
	}
}

// Close stops ffmpeg and waits for the reader to finish
func (s *FFmpegSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if s.cmd != nil {
		s.cmd.Wait()
		<-s.done
	}
	s.logger.WithField("dropped", s.Dropped()).Debug("Camera closed")
	return nil
}

// extractJPEGFrame extracts a complete JPEG frame from buffer
func extractJPEGFrame(buffer *[]byte) []byte {
	if len(*buffer) < 4 {
		return nil
	}

	// Find JPEG start marker (FFD8)
	startIdx := -1
	for i := 0; i < len(*buffer)-1; i++ {
		if (*buffer)[i] == 0xFF && (*buffer)[i+1] == 0xD8 {
			startIdx = i
			break
		}
	}
	if startIdx == -1 {
		// Keep the last byte, it may be the first half of a marker
		*buffer = (*buffer)[len(*buffer)-1:]
		return nil
	}

	// Find JPEG end marker (FFD9)
	endIdx := -1
	for i := startIdx + 2; i < len(*buffer)-1; i++ {
		if (*buffer)[i] == 0xFF && (*buffer)[i+1] == 0xD9 {
			endIdx = i + 2
			break
		}
	}
	if endIdx == -1 {
		return nil
	}

	frame := make([]byte, endIdx-startIdx)
	copy(frame, (*buffer)[startIdx:endIdx])
	*buffer = (*buffer)[endIdx:]

	return frame
}

var _ pipeline.FrameSource = (*FFmpegSource)(nil)

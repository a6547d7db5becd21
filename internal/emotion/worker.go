package emotion

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
)

// maxWorkerMessage bounds a single response frame
const maxWorkerMessage = 16 << 20

// Worker response statuses
const (
	workerStatusOK          = "ok"
	workerStatusNoFace      = "no_face"
	workerStatusError       = "error"
	workerStatusUnavailable = "unavailable"
)

type workerRequest struct {
	ID               string   `msgpack:"id"`
	Image            []byte   `msgpack:"image"` // JPEG
	EnforceDetection bool     `msgpack:"enforce_detection"`
	DetectorBackend  string   `msgpack:"detector_backend"`
	Actions          []string `msgpack:"actions"`
}

type workerResponse struct {
	ID      string     `msgpack:"id"`
	Status  string     `msgpack:"status"`
	Error   string     `msgpack:"error"`
	Results []Analysis `msgpack:"results"`
}

// WorkerConfig describes the classifier subprocess
type WorkerConfig struct {
	Command []string      // argv, e.g. python3 -u workers/emotion_worker.py
	Timeout time.Duration // Per-request deadline
}

// WorkerAnalyzer talks to a long-lived classifier subprocess over stdin/stdout
// using 4-byte big-endian length-prefixed msgpack frames
type WorkerAnalyzer struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Reader
	timeout time.Duration
	logger  *log.Entry

	mu     sync.Mutex
	broken bool
}

// StartWorker launches the subprocess. The process is killed when ctx ends.
func StartWorker(ctx context.Context, cfg WorkerConfig) (*WorkerAnalyzer, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("emotion worker command is empty")
	}

	cmd := exec.CommandContext(ctx, cfg.Command[0], cfg.Command[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start emotion worker: %w", err)
	}

	w := newWorkerAnalyzer(stdin, stdout, cfg.Timeout)
	w.cmd = cmd
	w.logger = w.logger.WithField("pid", cmd.Process.Pid)

	go w.logStderr(stderr)

	w.logger.WithField("command", strings.Join(cfg.Command, " ")).Info("Emotion worker started")
	return w, nil
}

func newWorkerAnalyzer(stdin io.WriteCloser, stdout io.Reader, timeout time.Duration) *WorkerAnalyzer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WorkerAnalyzer{
		stdin:   stdin,
		stdout:  bufio.NewReader(stdout),
		timeout: timeout,
		logger:  log.WithFields(log.Fields{"component": "emotion", "analyzer": "worker"}),
	}
}

// Analyze sends one region to the worker and waits for its answer
func (w *WorkerAnalyzer) Analyze(ctx context.Context, req AnalyzeRequest) ([]Analysis, error) {
	img, err := encodeJPEG(req.Image)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.broken {
		return nil, ErrWorkerBroken
	}

	msg := workerRequest{
		ID:               uuid.NewString(),
		Image:            img,
		EnforceDetection: req.EnforceDetection,
		DetectorBackend:  req.DetectorBackend,
		Actions:          []string{"emotion"},
	}

	type outcome struct {
		resp *workerResponse
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		resp, err := w.roundTrip(&msg)
		done <- outcome{resp, err}
	}()

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	var resp *workerResponse
	select {
	case <-ctx.Done():
		// the stream is now out of sync with the worker
		w.broken = true
		return nil, fmt.Errorf("emotion worker request %s: %w", msg.ID, ctx.Err())
	case o := <-done:
		if o.err != nil {
			w.broken = true
			return nil, o.err
		}
		resp = o.resp
	}

	if resp.ID != msg.ID {
		w.broken = true
		return nil, fmt.Errorf("emotion worker answered %s, expected %s", resp.ID, msg.ID)
	}

	switch resp.Status {
	case workerStatusOK:
		return resp.Results, nil
	case workerStatusNoFace:
		return nil, fmt.Errorf("%w: %s", ErrNoFace, resp.Error)
	case workerStatusUnavailable:
		return nil, &UnavailableError{Message: resp.Error}
	case workerStatusError:
		return nil, fmt.Errorf("emotion worker error: %s", resp.Error)
	default:
		return nil, fmt.Errorf("emotion worker returned unknown status %q", resp.Status)
	}
}

func (w *WorkerAnalyzer) roundTrip(req *workerRequest) (*workerResponse, error) {
	payload, err := msgpack.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal msgpack request: %w", err)
	}
	if err := writeFrame(w.stdin, payload); err != nil {
		return nil, err
	}

	data, err := readFrame(w.stdout)
	if err != nil {
		return nil, err
	}
	var resp workerResponse
	if err := msgpack.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal msgpack response: %w", err)
	}
	return &resp, nil
}

func writeFrame(wr io.Writer, payload []byte) error {
	prefix := make([]byte, 4)
	binary.BigEndian.PutUint32(prefix, uint32(len(payload)))
	if _, err := wr.Write(prefix); err != nil {
		return fmt.Errorf("failed to write length prefix: %w", err)
	}
	if _, err := wr.Write(payload); err != nil {
		return fmt.Errorf("failed to write msgpack data: %w", err)
	}
	return nil
}

func readFrame(r io.Reader) ([]byte, error) {
	prefix := make([]byte, 4)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return nil, fmt.Errorf("failed to read length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(prefix)
	if n > maxWorkerMessage {
		return nil, fmt.Errorf("emotion worker message too large: %d bytes", n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("failed to read msgpack data: %w", err)
	}
	return data, nil
}

// logStderr forwards worker log lines, mapping their level prefix
func (w *WorkerAnalyzer) logStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "[ERROR]"), strings.Contains(line, "[CRITICAL]"):
			w.logger.Error(line)
		case strings.Contains(line, "[WARNING]"), strings.Contains(line, "[WARN]"):
			w.logger.Warn(line)
		default:
			w.logger.Debug(line)
		}
	}
}

// Close ends the worker: stdin is closed so it can exit on its own, and it is
// killed if it has not exited after two seconds
func (w *WorkerAnalyzer) Close() error {
	w.mu.Lock()
	w.broken = true
	w.mu.Unlock()

	err := w.stdin.Close()
	if w.cmd == nil {
		return err
	}

	exited := make(chan error, 1)
	go func() { exited <- w.cmd.Wait() }()

	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		w.logger.Warn("Emotion worker did not exit, killing")
		w.cmd.Process.Kill()
		<-exited
	}
	w.logger.Info("Emotion worker stopped")
	return nil
}

var _ Analyzer = (*WorkerAnalyzer)(nil)

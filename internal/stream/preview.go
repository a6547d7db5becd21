package stream

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"pepperbot/internal/pipeline"

	log "github.com/sirupsen/logrus"
)

// PreviewServer serves the operator preview over HTTP.
//
//	GET  /preview     MJPEG stream
//	GET  /snapshot    latest frame as JPEG
//	GET  /ws/preview  websocket with base64 frames; {"type":"stop"} ends the run
//	POST /stop        ends the run
type PreviewServer struct {
	server   *http.Server
	listener net.Listener
	hub      *FrameHub
	logger   *log.Entry

	clients   map[chan []byte]bool
	clientsMu sync.RWMutex

	currentFrame []byte
	frameMu      sync.RWMutex
	frameSeq     atomic.Uint64

	stopped  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewPreviewServer binds addr and starts serving. Use "127.0.0.1:0" for an ephemeral port.
func NewPreviewServer(addr string) (*PreviewServer, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("preview listen on %s: %w", addr, err)
	}

	p := &PreviewServer{
		listener: lis,
		logger:   log.WithFields(log.Fields{"component": "preview", "addr": lis.Addr().String()}),
		clients:  make(map[chan []byte]bool),
		stopCh:   make(chan struct{}),
	}
	p.hub = NewFrameHub(p.requestStop)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /preview", p.serveMJPEG)
	mux.HandleFunc("GET /snapshot", p.serveSnapshot)
	mux.Handle("GET /ws/preview", p.hub)
	mux.HandleFunc("POST /stop", p.serveStop)

	p.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := p.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.WithError(err).Error("Preview server stopped")
		}
	}()

	p.logger.Infof("Preview available at http://%s/preview", lis.Addr())
	return p, nil
}

// Addr returns the bound address
func (p *PreviewServer) Addr() string {
	return p.listener.Addr().String()
}

// Show publishes img to all viewers. Returns false once a viewer asked to stop.
func (p *PreviewServer) Show(ctx context.Context, img image.Image) (bool, error) {
	if p.stopped.Load() {
		return false, nil
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return true, fmt.Errorf("encode preview frame: %w", err)
	}
	frame := buf.Bytes()
	seq := p.frameSeq.Add(1)

	p.frameMu.Lock()
	p.currentFrame = frame
	p.frameMu.Unlock()

	// Broadcast to MJPEG clients; slow clients skip frames
	p.clientsMu.RLock()
	for ch := range p.clients {
		select {
		case ch <- frame:
		default:
		}
	}
	p.clientsMu.RUnlock()

	if p.hub.HasClients() {
		b := img.Bounds()
		p.hub.Broadcast(NewFrameMessage(seq, b.Dx(), b.Dy(), base64.StdEncoding.EncodeToString(frame)))
	}

	return !p.stopped.Load(), nil
}

// CurrentFrame returns the last published JPEG, or nil
func (p *PreviewServer) CurrentFrame() []byte {
	p.frameMu.RLock()
	defer p.frameMu.RUnlock()
	return p.currentFrame
}

// Stopped is closed when a viewer asks to stop
func (p *PreviewServer) Stopped() <-chan struct{} {
	return p.stopCh
}

func (p *PreviewServer) requestStop() {
	p.stopOnce.Do(func() {
		p.stopped.Store(true)
		close(p.stopCh)
	})
}

// serveMJPEG streams frames as multipart/x-mixed-replace
func (p *PreviewServer) serveMJPEG(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	clientCh := make(chan []byte, 5)
	p.clientsMu.Lock()
	p.clients[clientCh] = true
	p.clientsMu.Unlock()

	defer func() {
		p.clientsMu.Lock()
		delete(p.clients, clientCh)
		p.clientsMu.Unlock()
	}()

	p.logger.WithField("remote", r.RemoteAddr).Info("MJPEG client connected")

	// Start with the current frame so new viewers see something immediately
	if frame := p.CurrentFrame(); frame != nil {
		writePart(w, frame)
		flusher.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			p.logger.WithField("remote", r.RemoteAddr).Info("MJPEG client disconnected")
			return
		case <-p.stopCh:
			return
		case frame := <-clientCh:
			writePart(w, frame)
			flusher.Flush()
		}
	}
}

func writePart(w http.ResponseWriter, frame []byte) {
	fmt.Fprintf(w, "--frame\r\n")
	fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
	fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(frame))
	w.Write(frame)
	fmt.Fprintf(w, "\r\n")
}

// serveSnapshot serves a single JPEG snapshot
func (p *PreviewServer) serveSnapshot(w http.ResponseWriter, r *http.Request) {
	frame := p.CurrentFrame()
	if frame == nil {
		http.Error(w, "No frame available", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(frame)))
	w.Write(frame)
}

func (p *PreviewServer) serveStop(w http.ResponseWriter, r *http.Request) {
	p.logger.WithField("remote", r.RemoteAddr).Info("Stop requested over HTTP")
	p.requestStop()
	w.WriteHeader(http.StatusAccepted)
}

// Close disconnects viewers and shuts the server down
func (p *PreviewServer) Close() error {
	p.requestStop()
	p.hub.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("preview shutdown: %w", err)
	}
	p.logger.Info("Preview server stopped")
	return nil
}

var _ pipeline.Display = (*PreviewServer)(nil)

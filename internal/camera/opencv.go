//go:build opencv

package camera

import (
	"context"
	"fmt"
	"strconv"

	"pepperbot/internal/pipeline"

	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// OpenCVSource captures frames through OpenCV's VideoCapture
type OpenCVSource struct {
	capture *gocv.VideoCapture
	mat     gocv.Mat
	seq     uint64
	logger  *log.Entry
}

// OpenOpenCV opens a device index or stream URL with OpenCV
func OpenOpenCV(ctx context.Context, cfg Config) (pipeline.FrameSource, error) {
	var device interface{} = cfg.ID
	if n, err := strconv.Atoi(cfg.ID); err == nil {
		device = n
	}

	capture, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, openError(cfg.ID, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, openError(cfg.ID, fmt.Errorf("device not opened"))
	}
	if cfg.Width > 0 && cfg.Height > 0 {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
		capture.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	}
	capture.Set(gocv.VideoCaptureBufferSize, 1)

	s := &OpenCVSource{
		capture: capture,
		mat:     gocv.NewMat(),
		logger:  log.WithFields(log.Fields{"component": "camera", "camera": cfg.ID, "backend": "opencv"}),
	}
	s.logger.Info("Camera opened")
	return s, nil
}

// Read grabs the next frame. Returns an error wrapping pipeline.ErrFrameRead on failure.
func (s *OpenCVSource) Read(ctx context.Context) (*pipeline.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ok := s.capture.Read(&s.mat); !ok || s.mat.Empty() {
		return nil, readError(fmt.Errorf("capture returned no frame"))
	}

	img, err := s.mat.ToImage()
	if err != nil {
		return nil, readError(err)
	}
	data, err := encodeFrame(img)
	if err != nil {
		return nil, readError(err)
	}
	s.seq++
	return pipeline.NewFrame(img, data, s.seq), nil
}

// Close releases the capture device
func (s *OpenCVSource) Close() error {
	s.mat.Close()
	return s.capture.Close()
}

//go:build !opencv

package camera

import (
	"context"
	"errors"

	"pepperbot/internal/pipeline"
)

// ErrOpenCVUnavailable is returned when the binary was built without the opencv tag
var ErrOpenCVUnavailable = errors.New("opencv capture not compiled in (build with -tags opencv)")

// OpenOpenCV is unavailable without the opencv build tag
func OpenOpenCV(ctx context.Context, cfg Config) (pipeline.FrameSource, error) {
	return nil, openError(cfg.ID, ErrOpenCVUnavailable)
}

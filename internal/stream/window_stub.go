//go:build !opencv

package stream

import (
	"context"
	"errors"

	"pepperbot/internal/pipeline"
)

// ErrWindowUnavailable is returned when the binary was built without the opencv tag
var ErrWindowUnavailable = errors.New("native preview window not compiled in (build with -tags opencv)")

// NewWindow is unavailable without the opencv build tag
func NewWindow(ctx context.Context) (pipeline.Display, error) {
	return nil, ErrWindowUnavailable
}

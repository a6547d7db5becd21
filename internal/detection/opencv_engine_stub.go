//go:build !opencv

package detection

// NewOpenCVEngine is unavailable without the opencv build tag
func NewOpenCVEngine(modelsDir string) (Engine, error) {
	return nil, ErrOpenCVUnavailable
}

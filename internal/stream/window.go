//go:build opencv

package stream

import (
	"context"
	"fmt"
	"image"

	"pepperbot/internal/pipeline"

	"gocv.io/x/gocv"
)

// WindowTitle is the title of the local preview window
const WindowTitle = "Human Detection"

// Window shows frames in a native OpenCV window. Pressing q stops the run.
type Window struct {
	window *gocv.Window
}

// NewWindow opens the preview window
func NewWindow(ctx context.Context) (pipeline.Display, error) {
	w := gocv.NewWindow(WindowTitle)
	if w == nil {
		return nil, fmt.Errorf("cannot open preview window")
	}
	return &Window{window: w}, nil
}

// Show renders img and polls the keyboard for one millisecond
func (w *Window) Show(ctx context.Context, img image.Image) (bool, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return true, fmt.Errorf("convert preview frame: %w", err)
	}
	defer mat.Close()

	w.window.IMShow(mat)
	key := w.window.WaitKey(1)
	if key&0xFF == 'q' || !w.window.IsOpen() {
		return false, nil
	}
	return true, nil
}

// Close destroys the window
func (w *Window) Close() error {
	return w.window.Close()
}

package stream

import (
	"context"
	"errors"
	"image"

	"pepperbot/internal/pipeline"
)

// CompositeDisplay shows every frame on several displays, e.g. the local
// window and the HTTP preview at once
type CompositeDisplay struct {
	displays []pipeline.Display
}

// NewCompositeDisplay creates a display that broadcasts to all non-nil displays
func NewCompositeDisplay(displays ...pipeline.Display) *CompositeDisplay {
	c := &CompositeDisplay{}
	for _, d := range displays {
		if d != nil {
			c.displays = append(c.displays, d)
		}
	}
	return c
}

// Show forwards img to every display. Any display asking to stop stops the run;
// a failing display is closed and dropped while the others keep going.
func (c *CompositeDisplay) Show(ctx context.Context, img image.Image) (bool, error) {
	keep := true
	var errs []error
	kept := c.displays[:0]
	for _, d := range c.displays {
		ok, err := d.Show(ctx, img)
		if err != nil {
			errs = append(errs, err)
			d.Close()
			continue
		}
		kept = append(kept, d)
		keep = keep && ok
	}
	c.displays = kept

	if len(c.displays) == 0 && len(errs) > 0 {
		return true, errors.Join(errs...)
	}
	return keep, nil
}

// Close closes every display
func (c *CompositeDisplay) Close() error {
	var errs []error
	for i := len(c.displays) - 1; i >= 0; i-- {
		if err := c.displays[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.displays = nil
	return errors.Join(errs...)
}

var _ pipeline.Display = (*CompositeDisplay)(nil)

// Package capture defines the screen-capture port used by the iteration runner.
package capture

import (
	"context"
	"image"

	"go.uber.org/zap"

	"github.com/xkilldash9x/resolve-agent/internal/calibration"
)

// Capturer grabs the pixels inside roi.
type Capturer interface {
	Capture(ctx context.Context, roi calibration.ROI) (image.Image, error)
}

// Func adapts a plain function to Capturer.
type Func func(ctx context.Context, roi calibration.ROI) (image.Image, error)

// Capture calls f.
func (f Func) Capture(ctx context.Context, roi calibration.ROI) (image.Image, error) {
	return f(ctx, roi)
}

// Checked guards an underlying Capturer against degenerate regions.
type Checked struct {
	next   Capturer
	logger *zap.Logger
}

// NewChecked wraps next.
func NewChecked(next Capturer, logger *zap.Logger) *Checked {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checked{next: next, logger: logger.Named("capture")}
}

// Capture rejects regions one pixel or less in either dimension with
// calibration.ErrROITooSmall before touching the backend.
func (c *Checked) Capture(ctx context.Context, roi calibration.ROI) (image.Image, error) {
	if err := CheckROI(roi); err != nil {
		c.logger.Warn("Refusing to capture degenerate region.",
			zap.Int("width", roi.Width), zap.Int("height", roi.Height))
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := c.next.Capture(ctx, roi)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("Captured region.",
		zap.Int("x", roi.X), zap.Int("y", roi.Y),
		zap.Int("width", img.Bounds().Dx()), zap.Int("height", img.Bounds().Dy()))
	return img, nil
}

// CheckROI returns calibration.ErrROITooSmall when roi cannot be captured.
func CheckROI(roi calibration.ROI) error {
	if roi.Width <= 1 || roi.Height <= 1 {
		return calibration.ErrROITooSmall
	}
	return nil
}

// Static serves a fixed sequence of images, repeating the last one. It backs
// offline runs and tests.
type Static struct {
	images []image.Image
	next   int
}

// NewStatic returns a Capturer that replays images in order.
func NewStatic(images ...image.Image) *Static {
	return &Static{images: images}
}

// Capture returns the next image, ignoring roi.
func (s *Static) Capture(ctx context.Context, _ calibration.ROI) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s.images) == 0 {
		return nil, errNoImages
	}
	img := s.images[s.next]
	if s.next < len(s.images)-1 {
		s.next++
	}
	return img, nil
}

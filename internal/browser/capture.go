package browser

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/resolve-agent/internal/calibration"
	"github.com/xkilldash9x/resolve-agent/internal/capture"
)

// Capturer grabs a clipped PNG of the tab.
type Capturer struct {
	logger *zap.Logger
	shoot  func(ctx context.Context, clip *page.Viewport) ([]byte, error)
}

var _ capture.Capturer = (*Capturer)(nil)

func newCapturer(logger *zap.Logger, run runFunc) *Capturer {
	c := &Capturer{logger: logger.Named("capture")}
	c.shoot = func(ctx context.Context, clip *page.Viewport) ([]byte, error) {
		var buf []byte
		err := run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			buf, err = page.CaptureScreenshot().
				WithFormat(page.CaptureScreenshotFormatPng).
				WithClip(clip).
				WithFromSurface(true).
				Do(ctx)
			return err
		}))
		return buf, err
	}
	return c
}

// Capture returns the pixels inside roi, in CSS pixels at scale 1.
func (c *Capturer) Capture(ctx context.Context, roi calibration.ROI) (image.Image, error) {
	buf, err := c.shoot(ctx, clipOf(roi))
	if err != nil {
		return nil, fmt.Errorf("browser: capture screenshot: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("browser: decode screenshot: %w", err)
	}
	c.logger.Debug("Screenshot captured.", zap.Int("bytes", len(buf)))
	return img, nil
}

func clipOf(roi calibration.ROI) *page.Viewport {
	return &page.Viewport{
		X:      float64(roi.X),
		Y:      float64(roi.Y),
		Width:  float64(roi.Width),
		Height: float64(roi.Height),
		Scale:  1,
	}
}

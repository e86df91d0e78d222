// Package vision scores how closely a captured region matches a reference
// image and decides when a run of scores has stopped moving.
package vision

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"math"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"
)

// Weights of each metric in the overall score.
const (
	WeightSSIM      = 0.4
	WeightHistogram = 0.3
	WeightDeltaE    = 0.3

	// DeltaEScale is the ΔE at which the colour score bottoms out.
	DeltaEScale = 50.0
)

// Metrics is one comparison between a reference and a capture.
type Metrics struct {
	SSIM      float64 `json:"ssim"`
	Histogram float64 `json:"histogram"`
	DeltaE    float64 `json:"delta_e"`
	Overall   float64 `json:"overall"`
}

// Normalize folds the raw metrics into a single score in [0,1]. Higher is closer.
func Normalize(ssim, histogram, deltaE float64) float64 {
	ssimScore := math.Max(0, math.Min(1, ssim))
	histScore := math.Max(0, math.Min(1, 1-histogram))
	deltaScore := math.Max(0, math.Min(1, 1-deltaE/DeltaEScale))
	return WeightSSIM*ssimScore + WeightHistogram*histScore + WeightDeltaE*deltaScore
}

// Compute compares current against reference. current is resized to the
// reference dimensions when they differ.
func Compute(ctx context.Context, reference, current image.Image) (Metrics, error) {
	if reference == nil || current == nil {
		return Metrics{}, fmt.Errorf("vision: both images are required")
	}
	ref := toRGBA(reference)
	if ref.Rect.Empty() {
		return Metrics{}, fmt.Errorf("vision: reference image is empty")
	}
	if current.Bounds().Empty() {
		return Metrics{}, fmt.Errorf("vision: current image is empty")
	}
	cur := resizeTo(current, ref.Rect.Dx(), ref.Rect.Dy())

	var m Metrics
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := ssim(gctx, ref, cur)
		m.SSIM = v
		return err
	})
	g.Go(func() error {
		m.Histogram = histogramDistance(ref, cur)
		return gctx.Err()
	})
	g.Go(func() error {
		v, err := meanDeltaE(gctx, ref, cur)
		m.DeltaE = v
		return err
	})
	if err := g.Wait(); err != nil {
		return Metrics{}, err
	}
	m.Overall = Normalize(m.SSIM, m.Histogram, m.DeltaE)
	return m, nil
}

// toRGBA returns img as a zero-origin *image.RGBA, copying only when needed.
func toRGBA(img image.Image) *image.RGBA {
	if r, ok := img.(*image.RGBA); ok && r.Rect.Min == (image.Point{}) {
		return r
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Rect, img, b.Min, draw.Src)
	return out
}

func resizeTo(img image.Image, w, h int) *image.RGBA {
	b := img.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return toRGBA(img)
	}
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.BiLinear.Scale(out, out.Rect, img, b, xdraw.Src, nil)
	return out
}

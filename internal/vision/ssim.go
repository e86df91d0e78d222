package vision

import (
	"context"
	"image"
)

const ssimWindow = 7

var (
	ssimC1 = (0.01 * 255) * (0.01 * 255)
	ssimC2 = (0.03 * 255) * (0.03 * 255)
)

// ssim is the mean structural similarity over the RGB channels, using 7x7
// uniform windows with sample covariance. Only windows fully inside the
// image count. Images smaller than the window use one global window.
func ssim(ctx context.Context, a, b *image.RGBA) (float64, error) {
	var total float64
	for ch := 0; ch < 3; ch++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		total += channelSSIM(a, b, ch)
	}
	return total / 3, nil
}

func channelSSIM(a, b *image.RGBA, ch int) float64 {
	w, h := a.Rect.Dx(), a.Rect.Dy()
	if w < ssimWindow || h < ssimWindow {
		return globalSSIM(a, b, ch)
	}

	// Summed-area tables of x, y, x², y², xy, with a zero border row and column.
	stride := w + 1
	sx := make([]float64, stride*(h+1))
	sy := make([]float64, len(sx))
	sxx := make([]float64, len(sx))
	syy := make([]float64, len(sx))
	sxy := make([]float64, len(sx))
	for y := 0; y < h; y++ {
		var rx, ry, rxx, ryy, rxy float64
		for x := 0; x < w; x++ {
			vx := float64(a.Pix[y*a.Stride+x*4+ch])
			vy := float64(b.Pix[y*b.Stride+x*4+ch])
			rx += vx
			ry += vy
			rxx += vx * vx
			ryy += vy * vy
			rxy += vx * vy
			i := (y+1)*stride + x + 1
			up := y*stride + x + 1
			sx[i] = sx[up] + rx
			sy[i] = sy[up] + ry
			sxx[i] = sxx[up] + rxx
			syy[i] = syy[up] + ryy
			sxy[i] = sxy[up] + rxy
		}
	}
	box := func(t []float64, x, y int) float64 {
		x1, y1 := x+ssimWindow, y+ssimWindow
		return t[y1*stride+x1] - t[y*stride+x1] - t[y1*stride+x] + t[y*stride+x]
	}

	const n = ssimWindow * ssimWindow
	var sum float64
	count := 0
	for y := 0; y+ssimWindow <= h; y++ {
		for x := 0; x+ssimWindow <= w; x++ {
			sum += ssimFromMoments(box(sx, x, y), box(sy, x, y), box(sxx, x, y), box(syy, x, y), box(sxy, x, y), n)
			count++
		}
	}
	return sum / float64(count)
}

func globalSSIM(a, b *image.RGBA, ch int) float64 {
	w, h := a.Rect.Dx(), a.Rect.Dy()
	var s1, s2, s11, s22, s12 float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			vx := float64(a.Pix[y*a.Stride+x*4+ch])
			vy := float64(b.Pix[y*b.Stride+x*4+ch])
			s1 += vx
			s2 += vy
			s11 += vx * vx
			s22 += vy * vy
			s12 += vx * vy
		}
	}
	return ssimFromMoments(s1, s2, s11, s22, s12, w*h)
}

func ssimFromMoments(sx, sy, sxx, syy, sxy float64, n int) float64 {
	fn := float64(n)
	mx, my := sx/fn, sy/fn
	cov := 1.0
	if n > 1 {
		cov = fn / (fn - 1)
	}
	vx := (sxx/fn - mx*mx) * cov
	vy := (syy/fn - my*my) * cov
	vxy := (sxy/fn - mx*my) * cov
	num := (2*mx*my + ssimC1) * (2*vxy + ssimC2)
	den := (mx*mx + my*my + ssimC1) * (vx + vy + ssimC2)
	return num / den
}

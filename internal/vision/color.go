package vision

import (
	"context"
	"image"
	"math"
)

const histogramBins = 32

// histogramDistance is the L2 distance between the density-normalised
// 32-bin histograms of every RGB channel value in each image.
func histogramDistance(a, b *image.RGBA) float64 {
	ha, hb := channelHistogram(a), channelHistogram(b)
	var sum float64
	for i := range ha {
		d := ha[i] - hb[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

func channelHistogram(img *image.RGBA) [histogramBins]float64 {
	var counts [histogramBins]float64
	w, h := img.Rect.Dx(), img.Rect.Dy()
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			for ch := 0; ch < 3; ch++ {
				counts[binOf(row[x*4+ch])]++
			}
		}
	}
	const binWidth = 255.0 / histogramBins
	total := float64(w * h * 3)
	for i := range counts {
		counts[i] /= total * binWidth
	}
	return counts
}

// binOf maps 0..255 onto 32 equal bins over [0,255]; 255 lands in the last bin.
func binOf(v uint8) int {
	i := int(float64(v) * histogramBins / 255)
	if i >= histogramBins {
		i = histogramBins - 1
	}
	return i
}

// Lab is a CIE L*a*b* colour under D65.
type Lab struct{ L, A, B float64 }

// D65 reference white.
const (
	whiteX = 0.95047
	whiteY = 1.0
	whiteZ = 1.08883
)

var srgbToLinear = func() [256]float64 {
	var t [256]float64
	for i := range t {
		v := float64(i) / 255
		if v <= 0.04045 {
			t[i] = v / 12.92
		} else {
			t[i] = math.Pow((v+0.055)/1.055, 2.4)
		}
	}
	return t
}()

// ToLab converts an 8-bit sRGB colour.
func ToLab(r, g, b uint8) Lab {
	lr, lg, lb := srgbToLinear[r], srgbToLinear[g], srgbToLinear[b]
	x := (0.412453*lr + 0.357580*lg + 0.180423*lb) / whiteX
	y := (0.212671*lr + 0.715160*lg + 0.072169*lb) / whiteY
	z := (0.019334*lr + 0.119193*lg + 0.950227*lb) / whiteZ
	fx, fy, fz := labF(x), labF(y), labF(z)
	return Lab{L: 116*fy - 16, A: 500 * (fx - fy), B: 200 * (fy - fz)}
}

func labF(t float64) float64 {
	if t > 0.008856 {
		return math.Cbrt(t)
	}
	return 7.787*t + 16.0/116
}

// DeltaE76 is the Euclidean distance between two Lab colours.
func DeltaE76(p, q Lab) float64 {
	dl, da, db := p.L-q.L, p.A-q.A, p.B-q.B
	return math.Sqrt(dl*dl + da*da + db*db)
}

func meanDeltaE(ctx context.Context, a, b *image.RGBA) (float64, error) {
	w, h := a.Rect.Dx(), a.Rect.Dy()
	var sum float64
	for y := 0; y < h; y++ {
		if y%64 == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}
		ra := a.Pix[y*a.Stride:]
		rb := b.Pix[y*b.Stride:]
		for x := 0; x < w; x++ {
			i := x * 4
			sum += DeltaE76(ToLab(ra[i], ra[i+1], ra[i+2]), ToLab(rb[i], rb[i+1], rb[i+2]))
		}
	}
	return sum / float64(w*h), nil
}

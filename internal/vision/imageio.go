package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // decoder registration for LoadImage
	"os"

	xdraw "golang.org/x/image/draw"
)

// LoadImage decodes a PNG or JPEG file.
func LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vision: open image: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("vision: decode %s: %w", path, err)
	}
	return img, nil
}

// FitWithin scales img down so its longest side is at most maxDim. Smaller
// images, and a non-positive maxDim, return img unchanged.
func FitWithin(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return img
	}
	scale := float64(maxDim) / float64(max(w, h))
	nw := max(1, int(float64(w)*scale+0.5))
	nh := max(1, int(float64(h)*scale+0.5))
	out := image.NewRGBA(image.Rect(0, 0, nw, nh))
	xdraw.CatmullRom.Scale(out, out.Rect, img, b, xdraw.Src, nil)
	return out
}

// EncodeJPEG fits img within maxDim and encodes it at the given quality.
func EncodeJPEG(img image.Image, maxDim, quality int) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("vision: nil image")
	}
	if quality < 1 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, FitWithin(img, maxDim), &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("vision: encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

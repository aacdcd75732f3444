package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	// Registered decoders for StdGrayHistogram.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

var ErrDecode = errors.New("image decode failed")

// Bins is the histogram resolution for 8-bit grayscale.
const Bins = 256

// Histogram is a normalized grayscale intensity histogram.
type Histogram [Bins]float64

// HistogramFunc decodes image bytes into a grayscale histogram.
type HistogramFunc func(data []byte) (Histogram, error)

// FromGray builds a histogram from 8-bit grayscale pixels, normalized so the
// bins sum to 1.
func FromGray(pixels []byte) Histogram {
	var h Histogram
	if len(pixels) == 0 {
		return h
	}
	for _, p := range pixels {
		h[p]++
	}
	n := float64(len(pixels))
	for i := range h {
		h[i] /= n
	}
	return h
}

// Correlation is the Pearson correlation of two histograms, in [-1, 1].
// Two flat histograms correlate at 1; a flat one against a varying one at 0.
func Correlation(a, b Histogram) float64 {
	var meanA, meanB float64
	for i := 0; i < Bins; i++ {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= Bins
	meanB /= Bins

	var num, varA, varB float64
	for i := 0; i < Bins; i++ {
		da := a[i] - meanA
		db := b[i] - meanB
		num += da * db
		varA += da * da
		varB += db * db
	}

	den := math.Sqrt(varA * varB)
	if den == 0 {
		if varA == 0 && varB == 0 {
			return 1
		}
		return 0
	}
	return num / den
}

// StdGrayHistogram decodes JPEG, PNG and GIF with the image package.
func StdGrayHistogram(data []byte) (Histogram, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Histogram{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	b := img.Bounds()
	pixels := make([]byte, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			pixels = append(pixels, color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y)
		}
	}
	return FromGray(pixels), nil
}

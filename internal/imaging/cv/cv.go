// Package cv implements the imaging operations with OpenCV through gocv.
package cv

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/technosupport/ts-eventgate/internal/imaging"
)

var ErrEmptyImage = errors.New("image is empty or unreadable")

// Annotator draws boxes with OpenCV. Output format follows dstPath's extension.
type Annotator struct{}

func (Annotator) Annotate(srcPath, dstPath string, boxes []image.Rectangle) error {
	mat := gocv.IMRead(srcPath, gocv.IMReadColor)
	defer mat.Close()
	if mat.Empty() {
		return fmt.Errorf("%w: %s", ErrEmptyImage, srcPath)
	}

	for _, box := range boxes {
		gocv.Rectangle(&mat, box, imaging.BoxColor, imaging.BoxThickness)
	}

	if ok := gocv.IMWrite(dstPath, mat); !ok {
		return fmt.Errorf("failed to write annotated image %s", dstPath)
	}
	return nil
}

// GrayHistogram decodes data as grayscale and returns its histogram.
func GrayHistogram(data []byte) (imaging.Histogram, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadGrayScale)
	if err != nil {
		return imaging.Histogram{}, fmt.Errorf("%w: %v", imaging.ErrDecode, err)
	}
	defer mat.Close()
	if mat.Empty() {
		return imaging.Histogram{}, fmt.Errorf("%w: empty image", imaging.ErrDecode)
	}

	if !mat.IsContinuous() {
		cont := mat.Clone()
		defer cont.Close()
		return imaging.FromGray(cont.ToBytes()), nil
	}
	return imaging.FromGray(mat.ToBytes()), nil
}

var _ imaging.Annotator = Annotator{}
var _ imaging.HistogramFunc = GrayHistogram

package imaging

import (
	"image"
	"image/color"
)

// BoxColor and BoxThickness are used for detection rectangles.
var BoxColor = color.RGBA{R: 200, G: 255, B: 0, A: 0}

const BoxThickness = 1

// Annotator draws detection boxes on a copy of an image.
// dst must carry the same extension as the desired output format.
type Annotator interface {
	Annotate(srcPath, dstPath string, boxes []image.Rectangle) error
}

package cv

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-eventgate/internal/imaging"
)

func grayPNG(t *testing.T, v uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestGrayHistogram(t *testing.T) {
	h, err := GrayHistogram(grayPNG(t, 42))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, h[42], 1e-9)

	same, err := GrayHistogram(grayPNG(t, 42))
	require.NoError(t, err)
	assert.Greater(t, imaging.Correlation(h, same), 0.98)

	_, err = GrayHistogram([]byte("garbage"))
	assert.ErrorIs(t, err, imaging.ErrDecode)
}

func TestAnnotator(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "cam_d_t_1.png")

	img := image.NewRGBA(image.Rect(0, 0, 20, 20))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	f, err := os.Create(src)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	dst := filepath.Join(dir, "cam_d_t_1_with_detections.png")
	require.NoError(t, Annotator{}.Annotate(src, dst, []image.Rectangle{image.Rect(2, 2, 10, 10)}))

	out, err := os.Open(dst)
	require.NoError(t, err)
	defer out.Close()
	decoded, err := png.Decode(out)
	require.NoError(t, err)

	r, g, b, _ := decoded.At(2, 5).RGBA()
	assert.Equal(t, color.RGBA{R: 200, G: 255, B: 0, A: 255}, color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: 255})

	original, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.NotEmpty(t, original)
}

func TestAnnotator_MissingSource(t *testing.T) {
	err := Annotator{}.Annotate("/nonexistent/a.jpg", filepath.Join(t.TempDir(), "b.jpg"), nil)
	assert.ErrorIs(t, err, ErrEmptyImage)
}

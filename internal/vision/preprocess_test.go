package vision

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestToCHW_Normalizes(t *testing.T) {
	img := solid(4, 2, color.RGBA{R: 255, G: 127, B: 0, A: 255})
	dst := make([]float32, 3*2*2)

	toCHW(dst, img, 2, 2, [3]float32{127.5, 127.5, 127.5}, [3]float32{127.5, 127.5, 127.5})

	for i := 0; i < 4; i++ {
		assert.InDelta(t, 1.0, dst[i], 1e-6, "R plane")
		assert.InDelta(t, -0.5/127.5, dst[4+i], 1e-6, "G plane")
		assert.InDelta(t, -1.0, dst[8+i], 1e-6, "B plane")
	}
}

func TestResizeNearest_HandlesOffsetBounds(t *testing.T) {
	src := image.NewRGBA(image.Rect(10, 10, 14, 14))
	src.SetRGBA(10, 10, color.RGBA{R: 9, A: 255})

	out := resizeNearest(src, 2, 2)
	assert.Equal(t, image.Rect(0, 0, 2, 2), out.Bounds())
	assert.Equal(t, uint8(9), out.RGBAAt(0, 0).R)
}

func TestCropFace(t *testing.T) {
	img := solid(100, 100, color.RGBA{G: 200, A: 255})

	crop := cropFace(img, [4]float32{20, 20, 60, 80})
	require.NotNil(t, crop)
	assert.Equal(t, 48, crop.Bounds().Dx())
	assert.Equal(t, 72, crop.Bounds().Dy())

	edge := cropFace(img, [4]float32{-10, -10, 10, 10})
	require.NotNil(t, edge)
	assert.Equal(t, 11, edge.Bounds().Dx())

	assert.Nil(t, cropFace(img, [4]float32{200, 200, 300, 300}))
}

package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/verigo/tensor"
)

func testRNG() *rand.Rand {
	return rand.New(rand.NewSource(42)) // nolint gosec
}

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}

	return img
}

func TestDecode(t *testing.T) {
	t.Run("PNG round trip", func(t *testing.T) {
		src := solidImage(4, 3, color.RGBA{R: 255, A: 255})

		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, src))

		img, err := Decode(&buf)
		require.NoError(t, err)
		assert.Equal(t, 4, img.Bounds().Dx())
		assert.Equal(t, 3, img.Bounds().Dy())
	})

	t.Run("Garbage errors", func(t *testing.T) {
		_, err := DecodeBytes([]byte("not an image"))
		assert.Error(t, err)
	})
}

func TestToTensor(t *testing.T) {
	img := solidImage(2, 2, color.RGBA{R: 255, G: 0, B: 127, A: 255})

	tn := ToTensor(img)
	require.Equal(t, []int{1, 3, 2, 2}, tn.Shape)

	assert.InDelta(t, 1.0, tn.At(0, 0, 0, 0), 1e-3)
	assert.InDelta(t, 0.0, tn.At(0, 1, 0, 0), 1e-3)
	assert.InDelta(t, 0.498, tn.At(0, 2, 0, 0), 1e-2)
}

func TestToImageRoundTrip(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 3, 2))
	src.SetRGBA(0, 0, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	src.SetRGBA(2, 1, color.RGBA{R: 200, G: 100, B: 50, A: 255})

	img := ToImage(ToTensor(src))

	assert.Equal(t, src.RGBAAt(0, 0), img.RGBAAt(0, 0))
	assert.Equal(t, src.RGBAAt(2, 1), img.RGBAAt(2, 1))
}

func TestNormalize(t *testing.T) {
	tn := tensor.Full(0.5, 1, 3, 2, 2)
	Normalize(tn, ImageNetMean, ImageNetStd)

	assert.InDelta(t, (0.5-0.485)/0.229, tn.At(0, 0, 0, 0), 1e-4)
	assert.InDelta(t, (0.5-0.456)/0.224, tn.At(0, 1, 0, 0), 1e-4)
	assert.InDelta(t, (0.5-0.406)/0.225, tn.At(0, 2, 0, 0), 1e-4)
}

func TestResizeBilinear(t *testing.T) {
	t.Run("Constant stays constant", func(t *testing.T) {
		tn := tensor.Full(0.7, 1, 3, 5, 5)

		out := ResizeBilinear(tn, 8, 8, false)
		require.Equal(t, []int{1, 3, 8, 8}, out.Shape)
		for _, v := range out.Data {
			assert.InDelta(t, 0.7, v, 1e-5)
		}
	})

	t.Run("AlignCorners preserves corners", func(t *testing.T) {
		tn, err := tensor.FromSlice([]float32{
			1, 2,
			3, 4,
		}, 1, 1, 2, 2)
		require.NoError(t, err)

		out := ResizeBilinear(tn, 5, 5, true)
		assert.Equal(t, float32(1), out.At(0, 0, 0, 0))
		assert.Equal(t, float32(2), out.At(0, 0, 0, 4))
		assert.Equal(t, float32(3), out.At(0, 0, 4, 0))
		assert.Equal(t, float32(4), out.At(0, 0, 4, 4))
	})

	t.Run("Identity size returns copy", func(t *testing.T) {
		tn := tensor.Full(1, 1, 1, 4, 4)
		out := ResizeBilinear(tn, 4, 4, false)

		assert.Equal(t, tn.Data, out.Data)
		out.Data[0] = 9
		assert.Equal(t, float32(1), tn.Data[0])
	})

	t.Run("Downscale averages", func(t *testing.T) {
		tn, err := tensor.FromSlice([]float32{
			0, 0, 1, 1,
			0, 0, 1, 1,
			0, 0, 1, 1,
			0, 0, 1, 1,
		}, 1, 1, 4, 4)
		require.NoError(t, err)

		out := ResizeBilinear(tn, 2, 2, false)
		assert.InDelta(t, 0.0, out.At(0, 0, 0, 0), 0.26)
		assert.InDelta(t, 1.0, out.At(0, 0, 0, 1), 0.26)
	})
}

func TestLetterbox(t *testing.T) {
	t.Run("Wide input pads top and bottom", func(t *testing.T) {
		tn := tensor.Full(1, 1, 3, 10, 20)

		out := Letterbox(tn, 20, 20)
		require.Equal(t, []int{1, 3, 20, 20}, out.Shape)

		// Rows 5..14 carry content, the rest is black padding.
		assert.InDelta(t, 1.0, out.At(0, 0, 10, 10), 1e-5)
		assert.Equal(t, float32(0), out.At(0, 0, 0, 10))
		assert.Equal(t, float32(0), out.At(0, 0, 19, 10))
	})

	t.Run("Square input fills output", func(t *testing.T) {
		tn := tensor.Full(0.5, 1, 3, 8, 8)

		out := Letterbox(tn, 16, 16)
		for _, v := range out.Data {
			assert.InDelta(t, 0.5, v, 1e-5)
		}
	})

	t.Run("Deterministic", func(t *testing.T) {
		tn := tensor.RandN(testRNG(), 1, 1, 3, 30, 17)

		a := Letterbox(tn, 32, 32)
		b := Letterbox(tn, 32, 32)
		assert.Equal(t, a.Data, b.Data)
	})
}

// Package imaging converts images to the standardized NCHW float32 tensors
// the perception models consume: decoding, bilinear resampling, letterboxing,
// channel normalization and the contrast enhancement steps of the iris
// pipeline.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"io"

	// Registered decoders for the supported capture formats.
	_ "image/jpeg"
	_ "image/png"

	"github.com/hupe1980/verigo/tensor"
)

// ImageNet channel statistics used by the iris models.
var (
	ImageNetMean = [3]float32{0.485, 0.456, 0.406}
	ImageNetStd  = [3]float32{0.229, 0.224, 0.225}
)

// Decode reads a PNG or JPEG image.
func Decode(r io.Reader) (image.Image, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	_ = format

	return img, nil
}

// DecodeBytes decodes a PNG or JPEG image from memory.
func DecodeBytes(data []byte) (image.Image, error) {
	return Decode(bytes.NewReader(data))
}

// ToTensor converts an image to a (1, 3, H, W) float32 tensor with RGB
// channels scaled to [0, 1].
func ToTensor(img image.Image) *tensor.Tensor {
	bounds := img.Bounds()
	h, w := bounds.Dy(), bounds.Dx()
	t := tensor.New(1, 3, h, w)

	rp := t.Plane(0, 0)
	gp := t.Plane(0, 1)
	bp := t.Plane(0, 2)

	const inv = 1.0 / 65535.0

	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			rp[i] = float32(r) * inv
			gp[i] = float32(g) * inv
			bp[i] = float32(b) * inv
			i++
		}
	}

	return t
}

// ToImage converts the first batch element of a (N, 3, H, W) tensor in
// [0, 1] back to an RGBA image. Values outside [0, 1] are clamped.
func ToImage(t *tensor.Tensor) *image.RGBA {
	h, w := t.Dim(2), t.Dim(3)
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	rp := t.Plane(0, 0)
	gp := t.Plane(0, 1)
	bp := t.Plane(0, 2)

	for i := 0; i < h*w; i++ {
		off := (i/w)*img.Stride + (i%w)*4
		img.Pix[off] = clampByte(rp[i])
		img.Pix[off+1] = clampByte(gp[i])
		img.Pix[off+2] = clampByte(bp[i])
		img.Pix[off+3] = 0xff
	}

	return img
}

func clampByte(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}

	return uint8(v*255 + 0.5)
}

// Normalize standardizes each channel in place: (v - mean[c]) / std[c].
func Normalize(t *tensor.Tensor, mean, std [3]float32) {
	n := t.Dim(0)
	for ni := 0; ni < n; ni++ {
		for c := 0; c < 3; c++ {
			plane := t.Plane(ni, c)
			m, invS := mean[c], 1/std[c]
			for i := range plane {
				plane[i] = (plane[i] - m) * invS
			}
		}
	}
}

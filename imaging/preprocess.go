package imaging

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/nfnt/resize"

	"mri-inference-service/model"
)

// Interpolation used for every resize. nfnt/resize is pure Go, so the output
// is identical across platforms.
const Interpolation = resize.Bilinear

// ToRGB copies img into an opaque NRGBA buffer. Alpha is discarded rather
// than composited; gray and paletted images are expanded to three channels.
func ToRGB(img image.Image) *image.NRGBA {
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			c.A = 0xff
			out.SetNRGBA(x-b.Min.X, y-b.Min.Y, c)
		}
	}
	return out
}

// Resize scales img to exactly width x height.
func Resize(img image.Image, width, height uint) image.Image {
	return resize.Resize(width, height, img, Interpolation)
}

// Thumbnail converts img to RGB and resizes it to width x height.
func Thumbnail(img image.Image, width, height int) *image.RGBA {
	resized := Resize(ToRGB(img), uint(width), uint(height))
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(out, out.Bounds(), resized, resized.Bounds().Min, draw.Src)
	return out
}

// Preprocess turns a decoded scan into the 1x176x176x3 tensor the
// classifier expects, with channel values scaled into [0,1].
func Preprocess(img image.Image) model.Tensor {
	const size = model.ImageSize

	resized := Resize(ToRGB(img), size, size)
	b := resized.Bounds()

	t := model.NewTensor(model.InputShape...)
	i := 0
	for y := b.Min.Y; y < b.Min.Y+size; y++ {
		for x := b.Min.X; x < b.Min.X+size; x++ {
			r, g, bl, _ := resized.At(x, y).RGBA()
			t.Data[i] = float32(r>>8) / 255.0
			t.Data[i+1] = float32(g>>8) / 255.0
			t.Data[i+2] = float32(bl>>8) / 255.0
			i += model.Channels
		}
	}
	return t
}

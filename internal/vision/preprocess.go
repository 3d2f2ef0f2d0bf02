package vision

import (
	"image"
	"image/draw"
)

var (
	detMean = [3]float32{127.5, 127.5, 127.5}
	detStd  = [3]float32{128.0, 128.0, 128.0}
	embMean = [3]float32{127.5, 127.5, 127.5}
	embStd  = [3]float32{127.5, 127.5, 127.5}
)

// toCHW resizes img to w x h and writes it into dst as planar RGB,
// normalized as (pixel - mean) / std. dst must hold 3*w*h values.
func toCHW(dst []float32, img image.Image, w, h int, mean, std [3]float32) {
	resized := resizeNearest(img, w, h)
	plane := w * h

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := resized.PixOffset(x, y)
			idx := y*w + x
			dst[idx] = (float32(resized.Pix[off]) - mean[0]) / std[0]
			dst[plane+idx] = (float32(resized.Pix[off+1]) - mean[1]) / std[1]
			dst[2*plane+idx] = (float32(resized.Pix[off+2]) - mean[2]) / std[2]
		}
	}
}

// resizeNearest is a nearest-neighbour resize; good enough for model input.
func resizeNearest(img image.Image, w, h int) *image.RGBA {
	src := toRGBA(img)
	b := src.Bounds()
	srcW, srcH := b.Dx(), b.Dy()

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if srcW == 0 || srcH == 0 {
		return dst
	}
	for y := 0; y < h; y++ {
		sy := b.Min.Y + y*srcH/h
		for x := 0; x < w; x++ {
			sx := b.Min.X + x*srcW/w
			so := src.PixOffset(sx, sy)
			do := dst.PixOffset(x, y)
			copy(dst.Pix[do:do+4], src.Pix[so:so+4])
		}
	}
	return dst
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(b)
	draw.Draw(rgba, b, img, b.Min, draw.Src)
	return rgba
}

// cropFace cuts the box out of img with 10% padding on every side.
// It returns nil when the box lies outside the image.
func cropFace(img image.Image, bbox [4]float32) image.Image {
	bounds := img.Bounds()
	r := image.Rect(int(bbox[0]), int(bbox[1]), int(bbox[2]), int(bbox[3])).Intersect(bounds)
	if r.Empty() {
		return nil
	}

	padW := r.Dx() / 10
	padH := r.Dy() / 10
	r = image.Rect(r.Min.X-padW, r.Min.Y-padH, r.Max.X+padW, r.Max.Y+padH).Intersect(bounds)

	crop := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(crop, crop.Bounds(), img, r.Min, draw.Src)
	return crop
}

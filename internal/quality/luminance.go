package quality

import (
	"image"

	"github.com/kozaktomas/face-checkin/internal/constants"
	"golang.org/x/image/draw"
)

// MeanLuminance returns the mean luma (0.299R + 0.587G + 0.114B, 0-255) of img
// within region. An empty or out-of-bounds region measures the whole image.
// Large regions are downscaled first; YCbCr and Gray images are read directly.
func MeanLuminance(img image.Image, region image.Rectangle) float64 {
	if img == nil {
		return 0
	}
	region = region.Intersect(img.Bounds())
	if region.Empty() {
		region = img.Bounds()
	}
	if region.Empty() {
		return 0
	}

	switch m := img.(type) {
	case *image.YCbCr:
		return meanYCbCr(m, region)
	case *image.Gray:
		return meanGray(m, region)
	}

	src := img
	if region.Dx() > constants.LuminanceSampleWidth {
		w := constants.LuminanceSampleWidth
		h := max(1, region.Dy()*w/region.Dx())
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, region, draw.Src, nil)
		src, region = dst, dst.Bounds()
	}

	var sum float64
	for y := region.Min.Y; y < region.Max.Y; y++ {
		for x := region.Min.X; x < region.Max.X; x++ {
			r, g, b, _ := src.At(x, y).RGBA()
			sum += 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
		}
	}
	n := float64(region.Dx() * region.Dy())
	return sum / n / 257.0
}

func meanYCbCr(m *image.YCbCr, region image.Rectangle) float64 {
	var sum uint64
	for y := region.Min.Y; y < region.Max.Y; y++ {
		for x := region.Min.X; x < region.Max.X; x++ {
			sum += uint64(m.Y[m.YOffset(x, y)])
		}
	}
	return float64(sum) / float64(region.Dx()*region.Dy())
}

func meanGray(m *image.Gray, region image.Rectangle) float64 {
	var sum uint64
	for y := region.Min.Y; y < region.Max.Y; y++ {
		for x := region.Min.X; x < region.Max.X; x++ {
			sum += uint64(m.GrayAt(x, y).Y)
		}
	}
	return float64(sum) / float64(region.Dx()*region.Dy())
}

// pixelRect converts a normalized box into pixel coordinates of img.
func pixelRect(img image.Image, left, top, width, height float64) image.Rectangle {
	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	return image.Rect(
		b.Min.X+int(left*w),
		b.Min.Y+int(top*h),
		b.Min.X+int((left+width)*w),
		b.Min.Y+int((top+height)*h),
	)
}

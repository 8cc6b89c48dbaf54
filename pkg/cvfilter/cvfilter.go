//go:build opencv

// Package cvfilter provides denoising filters backed by OpenCV when the module
// is built with the opencv tag, and by the pure Go filters otherwise.
package cvfilter

import (
	"gocv.io/x/gocv"

	"particlecount3d/internal/models"
	"particlecount3d/internal/parallel"
	"particlecount3d/pkg/preprocess"
)

// Available reports whether OpenCV filters are compiled in
func Available() bool { return true }

// NewMedian returns a per-slice median filter of the given radius
func NewMedian(radius, workers int) preprocess.MorphologicalFilter {
	return MedianFilter{Radius: radius, Workers: workers}
}

// MedianFilter is a per-slice square median computed by OpenCV
type MedianFilter struct {
	Radius  int
	Workers int
}

// Apply implements preprocess.MorphologicalFilter
func (m MedianFilter) Apply(v *models.Volume) (*models.Volume, error) {
	ksize := 2*m.Radius + 1
	// OpenCV only filters float images with apertures 3 and 5
	if m.Radius <= 0 || ksize > 5 {
		return preprocess.MedianFilter{Radius: m.Radius, Workers: m.Workers}.Apply(v)
	}

	out := v.Clone()
	parallel.For(v.Depth, m.Workers, func(z int) {
		src := gocv.NewMatWithSize(v.Height, v.Width, gocv.MatTypeCV32F)
		defer src.Close()
		dst := gocv.NewMat()
		defer dst.Close()

		slice := v.Plane(z)
		for y := 0; y < v.Height; y++ {
			for x := 0; x < v.Width; x++ {
				src.SetFloatAt(y, x, float32(slice[y*v.Width+x]))
			}
		}

		gocv.MedianBlur(src, &dst, ksize)

		result := out.Plane(z)
		for y := 0; y < v.Height; y++ {
			for x := 0; x < v.Width; x++ {
				result[y*v.Width+x] = float64(dst.GetFloatAt(y, x))
			}
		}
	})

	return out, nil
}

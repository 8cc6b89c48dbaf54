// Package preprocess crops a calibrated volume to the region of interest and
// applies the denoising and background suppression filters.
package preprocess

import (
	"fmt"

	"particlecount3d/internal/models"
	"particlecount3d/pkg/roi"
)

// MorphologicalFilter maps an input volume to a new filtered volume of the same shape.
// Implementations must not modify their input.
type MorphologicalFilter interface {
	Apply(v *models.Volume) (*models.Volume, error)
}

// FilterFunc adapts a function to the MorphologicalFilter interface
type FilterFunc func(v *models.Volume) (*models.Volume, error)

// Apply implements MorphologicalFilter
func (f FilterFunc) Apply(v *models.Volume) (*models.Volume, error) {
	return f(v)
}

// Chain applies filters in order
type Chain []MorphologicalFilter

// Apply implements MorphologicalFilter
func (c Chain) Apply(v *models.Volume) (*models.Volume, error) {
	out := v
	for i, f := range c {
		next, err := f.Apply(out)
		if err != nil {
			return nil, fmt.Errorf("filter %d: %w", i, err)
		}
		out = next
	}
	if out == v {
		out = v.Clone()
	}
	return out, nil
}

// Preprocessor crops the source volume to the ROI, then denoises and optionally
// suppresses background. Either filter may be nil.
type Preprocessor struct {
	Denoise    MorphologicalFilter
	Background MorphologicalFilter

	// ClearOutside zeroes voxels outside a polygonal region
	ClearOutside bool
}

// Run produces the preprocessed sub-volume. denoised is the crop after
// denoising only, prepared additionally has the background suppressed. The
// source volume is untouched.
func (p *Preprocessor) Run(v *models.Volume, region roi.Region) (denoised, prepared *models.Volume, err error) {
	denoised, err = Crop(v, region, p.ClearOutside)
	if err != nil {
		return nil, nil, err
	}

	if p.Denoise != nil {
		if denoised, err = p.Denoise.Apply(denoised); err != nil {
			return nil, nil, fmt.Errorf("denoising failed: %w", err)
		}
	}

	prepared = denoised
	if p.Background != nil {
		if prepared, err = p.Background.Apply(denoised); err != nil {
			return nil, nil, fmt.Errorf("background suppression failed: %w", err)
		}
	}

	return denoised, prepared, nil
}

// Crop copies the bounding rectangle of the region over its slice range.
// With clearOutside set, voxels outside a polygonal region are zeroed.
func Crop(v *models.Volume, region roi.Region, clearOutside bool) (*models.Volume, error) {
	if err := region.Validate(v.Width, v.Height, v.Depth); err != nil {
		return nil, err
	}

	b := region.Bounds()
	first, last := region.SliceRange(v.Depth)
	out := models.NewVolume(b.Dx(), b.Dy(), last-first+1, v.Calibration)

	mask := clearOutside && !region.IsRectangle()
	for z := 0; z < out.Depth; z++ {
		for y := 0; y < out.Height; y++ {
			for x := 0; x < out.Width; x++ {
				sx, sy := b.Min.X+x, b.Min.Y+y
				if mask && !region.Contains(sx, sy) {
					continue
				}
				out.Set(x, y, z, v.At(sx, sy, first+z))
			}
		}
	}

	return out, nil
}

package preprocess

import (
	"fmt"
	"math"

	"particlecount3d/internal/models"
	"particlecount3d/internal/parallel"
)

// TopHatFilter is a white top-hat (v - opening(v)) with an ellipsoid structuring
// element. It removes structures larger than the element, keeping small bright objects.
type TopHatFilter struct {
	RadiusX, RadiusY, RadiusZ int
	Workers                   int
}

// Apply implements MorphologicalFilter
func (t TopHatFilter) Apply(v *models.Volume) (*models.Volume, error) {
	if t.RadiusX < 0 || t.RadiusY < 0 || t.RadiusZ < 0 {
		return nil, fmt.Errorf("top-hat radii must be non-negative")
	}

	eroded := Erode(v, t.RadiusX, t.RadiusY, t.RadiusZ, t.Workers)
	opened := Dilate(eroded, t.RadiusX, t.RadiusY, t.RadiusZ, t.Workers)

	out := models.NewVolume(v.Width, v.Height, v.Depth, v.Calibration)
	for i, value := range v.Data {
		out.Data[i] = value - opened.Data[i]
	}
	return out, nil
}

// Erode returns the grey-level erosion of v with an ellipsoid element
func Erode(v *models.Volume, rx, ry, rz, workers int) *models.Volume {
	return rank(v, ellipsoid(rx, ry, rz), workers, math.Min, math.Inf(1))
}

// Dilate returns the grey-level dilation of v with an ellipsoid element
func Dilate(v *models.Volume, rx, ry, rz, workers int) *models.Volume {
	return rank(v, ellipsoid(rx, ry, rz), workers, math.Max, math.Inf(-1))
}

// ellipsoid returns the offsets inside the ellipsoid with the given radii.
// A zero radius collapses that axis.
func ellipsoid(rx, ry, rz int) []models.Offset {
	norm := func(d, r int) float64 {
		if r == 0 {
			return 0
		}
		f := float64(d) / float64(r)
		return f * f
	}

	var out []models.Offset
	for dz := -rz; dz <= rz; dz++ {
		for dy := -ry; dy <= ry; dy++ {
			for dx := -rx; dx <= rx; dx++ {
				if norm(dx, rx)+norm(dy, ry)+norm(dz, rz) <= 1 {
					out = append(out, models.Offset{DX: dx, DY: dy, DZ: dz})
				}
			}
		}
	}
	return out
}

// rank applies op over the structuring element, ignoring offsets outside the lattice
func rank(v *models.Volume, se []models.Offset, workers int, op func(a, b float64) float64, identity float64) *models.Volume {
	out := models.NewVolume(v.Width, v.Height, v.Depth, v.Calibration)
	parallel.For(v.Depth, workers, func(z int) {
		for y := 0; y < v.Height; y++ {
			for x := 0; x < v.Width; x++ {
				acc := identity
				for _, o := range se {
					nx, ny, nz := x+o.DX, y+o.DY, z+o.DZ
					if !v.InBounds(nx, ny, nz) {
						continue
					}
					acc = op(acc, v.At(nx, ny, nz))
				}
				out.Set(x, y, z, acc)
			}
		}
	})
	return out
}

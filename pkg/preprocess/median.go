package preprocess

import (
	"fmt"
	"sort"

	"particlecount3d/internal/models"
	"particlecount3d/internal/parallel"
)

// MedianFilter is a per-slice 2D median over a circular kernel, equivalent to
// ImageJ's "Median... radius=r stack". Edge pixels are replicated.
type MedianFilter struct {
	Radius  int
	Workers int
}

// Apply implements MorphologicalFilter
func (m MedianFilter) Apply(v *models.Volume) (*models.Volume, error) {
	if m.Radius < 0 {
		return nil, fmt.Errorf("median radius must be non-negative, got %d", m.Radius)
	}

	out := v.Clone()
	if m.Radius == 0 {
		return out, nil
	}

	kernel := circularKernel(m.Radius)
	parallel.For(v.Depth, m.Workers, func(z int) {
		window := make([]float64, len(kernel))
		for y := 0; y < v.Height; y++ {
			for x := 0; x < v.Width; x++ {
				for i, k := range kernel {
					nx := clamp(x+k[0], 0, v.Width-1)
					ny := clamp(y+k[1], 0, v.Height-1)
					window[i] = v.At(nx, ny, z)
				}
				out.Set(x, y, z, median(window))
			}
		}
	})

	return out, nil
}

// circularKernel returns the (dx, dy) offsets of ImageJ's circular rank kernel
func circularKernel(radius int) [][2]int {
	r2 := radius*radius + 1
	kernel := make([][2]int, 0, (2*radius+1)*(2*radius+1))
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= r2 {
				kernel = append(kernel, [2]int{dx, dy})
			}
		}
	}
	return kernel
}

// median calculates the median value of a slice of float64 values.
// The slice is sorted in place.
func median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}

	sort.Float64s(values)

	if n%2 == 0 {
		return (values[n/2-1] + values[n/2]) / 2
	}

	return values[n/2]
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Package seeds locates candidate object centres with a scale-normalised
// Laplacian of Gaussian detector and rasterizes them into a marker volume.
package seeds

import (
	"errors"
	"fmt"
	"math"

	"particlecount3d/internal/models"
	"particlecount3d/internal/parallel"
	"particlecount3d/pkg/preprocess"
)

// ErrDetection is returned when the detector cannot run on its input
var ErrDetection = errors.New("seed detection failed")

// Params holds the detection parameters
type Params struct {
	// Radius is the expected object radius in physical units
	Radius float64

	// Threshold is the minimum quality (LoG response) of an accepted peak
	Threshold float64

	// SubVoxel enables quadratic sub-voxel localisation
	SubVoxel bool

	// MedianFilter applies a 3x3 per-slice median before detection
	MedianFilter bool
}

// Peak is a detected blob centre in voxel coordinates
type Peak struct {
	X, Y, Z float64
	Quality float64
}

// SeedDetector finds candidate object centres in a volume
type SeedDetector interface {
	Detect(v *models.Volume, p Params) ([]Peak, error)
}

// LoGDetector is a blob detector in the style of TrackMate's LoG detector.
// Each axis uses sigma = radius / sqrt(nDims) converted to voxels through the calibration.
type LoGDetector struct {
	Workers int
}

// Detect implements SeedDetector. Peaks are reported in scan order (z, then y, then x).
func (d LoGDetector) Detect(v *models.Volume, p Params) ([]Peak, error) {
	if v.Empty() {
		return nil, fmt.Errorf("%w: empty volume", ErrDetection)
	}
	if p.Radius <= 0 || math.IsNaN(p.Radius) {
		return nil, fmt.Errorf("%w: radius must be positive, got %g", ErrDetection, p.Radius)
	}
	if !v.Calibration.Valid() {
		return nil, fmt.Errorf("%w: invalid calibration", ErrDetection)
	}

	src := v
	if p.MedianFilter {
		filtered, err := preprocess.MedianFilter{Radius: 1, Workers: d.Workers}.Apply(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDetection, err)
		}
		src = filtered
	}

	response := d.Response(src, p.Radius)
	return findPeaks(response, p), nil
}

// Response computes the negated, scale-normalised LoG (mexican hat) response.
// Bright blobs of the given radius produce positive maxima.
func (d LoGDetector) Response(v *models.Volume, radius float64) *models.Volume {
	dims := [3]int{v.Width, v.Height, v.Depth}
	voxel := [3]float64{v.Calibration.VoxelX, v.Calibration.VoxelY, v.Calibration.VoxelZ}

	nDims := 0
	for _, n := range dims {
		if n > 1 {
			nDims++
		}
	}
	if nDims == 0 {
		return models.NewVolume(v.Width, v.Height, v.Depth, v.Calibration)
	}

	var sigma [3]float64
	var g, g2 [3][]float64
	for a := 0; a < 3; a++ {
		sigma[a] = radius / math.Sqrt(float64(nDims)) / voxel[a]
		g[a], g2[a] = gaussianKernels(sigma[a])
	}

	active := func(a int) bool { return dims[a] > 1 }

	// Smooth along z first, then branch for the second derivatives
	gz := v
	gzz := v
	if active(2) {
		gz = convolve(v, g[2], 2, d.Workers)
		gzz = convolve(v, g2[2], 2, d.Workers)
	}

	gyz := gz
	if active(1) {
		gyz = convolve(gz, g[1], 1, d.Workers)
	}

	out := models.NewVolume(v.Width, v.Height, v.Depth, v.Calibration)
	accumulate := func(term *models.Volume, s float64) {
		s2 := s * s
		for i, value := range term.Data {
			out.Data[i] -= s2 * value
		}
	}

	if active(0) {
		accumulate(convolve(gyz, g2[0], 0, d.Workers), sigma[0])
	}
	if active(1) {
		dyy := convolve(gz, g2[1], 1, d.Workers)
		if active(0) {
			dyy = convolve(dyy, g[0], 0, d.Workers)
		}
		accumulate(dyy, sigma[1])
	}
	if active(2) {
		dzz := gzz
		if active(1) {
			dzz = convolve(dzz, g[1], 1, d.Workers)
		}
		if active(0) {
			dzz = convolve(dzz, g[0], 0, d.Workers)
		}
		accumulate(dzz, sigma[2])
	}

	return out
}

// gaussianKernels returns a normalised Gaussian and its zero-sum second derivative
func gaussianKernels(sigma float64) (g, g2 []float64) {
	half := int(math.Ceil(3 * sigma))
	if half < 1 {
		half = 1
	}
	size := 2*half + 1
	g = make([]float64, size)
	g2 = make([]float64, size)

	sum := 0.0
	for i := range g {
		x := float64(i - half)
		g[i] = math.Exp(-x * x / (2 * sigma * sigma))
		sum += g[i]
	}

	s2 := sigma * sigma
	mean := 0.0
	for i := range g {
		g[i] /= sum
		x := float64(i - half)
		g2[i] = (x*x/(s2*s2) - 1/s2) * g[i]
		mean += g2[i]
	}
	mean /= float64(size)
	for i := range g2 {
		g2[i] -= mean
	}

	return g, g2
}

// convolve applies a 1D kernel along axis (0 = x, 1 = y, 2 = z) with edge replication
func convolve(v *models.Volume, kernel []float64, axis int, workers int) *models.Volume {
	out := models.NewVolume(v.Width, v.Height, v.Depth, v.Calibration)
	half := len(kernel) / 2

	parallel.For(v.Depth, workers, func(z int) {
		for y := 0; y < v.Height; y++ {
			for x := 0; x < v.Width; x++ {
				acc := 0.0
				for k, w := range kernel {
					nx, ny, nz := x, y, z
					switch axis {
					case 0:
						nx = clamp(x+k-half, 0, v.Width-1)
					case 1:
						ny = clamp(y+k-half, 0, v.Height-1)
					default:
						nz = clamp(z+k-half, 0, v.Depth-1)
					}
					acc += w * v.At(nx, ny, nz)
				}
				out.Set(x, y, z, acc)
			}
		}
	})

	return out
}

// findPeaks returns the local maxima of the response above the threshold.
// On plateaus only the first voxel in scan order is kept.
func findPeaks(r *models.Volume, p Params) []Peak {
	var peaks []Peak
	for z := 0; z < r.Depth; z++ {
		for y := 0; y < r.Height; y++ {
			for x := 0; x < r.Width; x++ {
				value := r.At(x, y, z)
				if value <= p.Threshold {
					continue
				}
				if !isLocalMax(r, x, y, z, value) {
					continue
				}

				peak := Peak{X: float64(x), Y: float64(y), Z: float64(z), Quality: value}
				if p.SubVoxel {
					peak.X += refine(r, x, y, z, 1, 0, 0)
					peak.Y += refine(r, x, y, z, 0, 1, 0)
					peak.Z += refine(r, x, y, z, 0, 0, 1)
				}
				peaks = append(peaks, peak)
			}
		}
	}
	return peaks
}

func isLocalMax(r *models.Volume, x, y, z int, value float64) bool {
	idx := r.Index(x, y, z)
	for _, o := range models.Neighbors26 {
		nx, ny, nz := x+o.DX, y+o.DY, z+o.DZ
		if !r.InBounds(nx, ny, nz) {
			continue
		}
		n := r.At(nx, ny, nz)
		if n > value || (n == value && r.Index(nx, ny, nz) < idx) {
			return false
		}
	}
	return true
}

// refine fits a parabola through three samples along one axis and returns the
// offset of its vertex, limited to half a voxel.
func refine(r *models.Volume, x, y, z, dx, dy, dz int) float64 {
	if !r.InBounds(x-dx, y-dy, z-dz) || !r.InBounds(x+dx, y+dy, z+dz) {
		return 0
	}
	fm := r.At(x-dx, y-dy, z-dz)
	f0 := r.At(x, y, z)
	fp := r.At(x+dx, y+dy, z+dz)

	denom := fm - 2*f0 + fp
	if denom >= 0 {
		return 0
	}
	offset := 0.5 * (fm - fp) / denom
	return math.Max(-0.5, math.Min(0.5, offset))
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

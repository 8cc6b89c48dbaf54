package models

import (
	"fmt"
	"math"
)

// Calibration describes the physical size of one voxel
type Calibration struct {
	// VoxelX, VoxelY, VoxelZ are the physical voxel sizes along each axis
	VoxelX, VoxelY, VoxelZ float64

	// Unit is the measurement unit string (e.g. "um")
	Unit string
}

// VoxelVolume returns the physical volume of a single voxel
func (c Calibration) VoxelVolume() float64 {
	return c.VoxelX * c.VoxelY * c.VoxelZ
}

// Valid reports whether every voxel size is strictly positive
func (c Calibration) Valid() bool {
	return c.VoxelX > 0 && c.VoxelY > 0 && c.VoxelZ > 0
}

// Volume represents a calibrated 3D intensity stack.
// Data is stored as a 1D array in z-major order: idx = z*Width*Height + y*Width + x.
// A Volume is never modified once handed to a processing stage; stages return new volumes.
type Volume struct {
	// Data holds the raw intensity samples
	Data []float64

	// Width is the width of the volume in voxels
	Width int

	// Height is the height of the volume in voxels
	Height int

	// Depth is the number of slices
	Depth int

	// Calibration is the physical voxel size and unit
	Calibration Calibration
}

// NewVolume allocates a zero-filled volume of the given shape
func NewVolume(width, height, depth int, cal Calibration) *Volume {
	return &Volume{
		Data:        make([]float64, width*height*depth),
		Width:       width,
		Height:      height,
		Depth:       depth,
		Calibration: cal,
	}
}

// Index returns the linear index of voxel (x, y, z)
func (v *Volume) Index(x, y, z int) int {
	return z*v.Width*v.Height + y*v.Width + x
}

// Coords converts a linear index back into (x, y, z)
func (v *Volume) Coords(idx int) (x, y, z int) {
	plane := v.Width * v.Height
	z = idx / plane
	rem := idx % plane
	return rem % v.Width, rem / v.Width, z
}

// At returns the intensity at (x, y, z)
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[v.Index(x, y, z)]
}

// Set stores an intensity at (x, y, z). Only used while building a volume.
func (v *Volume) Set(x, y, z int, value float64) {
	v.Data[v.Index(x, y, z)] = value
}

// InBounds reports whether (x, y, z) lies inside the lattice
func (v *Volume) InBounds(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < v.Width && y < v.Height && z < v.Depth
}

// Len returns the number of voxels
func (v *Volume) Len() int {
	return v.Width * v.Height * v.Depth
}

// Empty reports whether the volume holds no voxels
func (v *Volume) Empty() bool {
	return v == nil || v.Len() == 0 || len(v.Data) != v.Len()
}

// Clone returns a deep copy of the volume
func (v *Volume) Clone() *Volume {
	out := NewVolume(v.Width, v.Height, v.Depth, v.Calibration)
	copy(out.Data, v.Data)
	return out
}

// Slice returns a copy of slice z as a flat width*height array
func (v *Volume) Slice(z int) []float64 {
	plane := v.Width * v.Height
	out := make([]float64, plane)
	copy(out, v.Data[z*plane:(z+1)*plane])
	return out
}

// Plane returns slice z as a view into Data. Writes go to the volume.
func (v *Volume) Plane(z int) []float64 {
	plane := v.Width * v.Height
	return v.Data[z*plane : (z+1)*plane]
}

// MinMax returns the smallest and largest intensity in the volume
func (v *Volume) MinMax() (min, max float64) {
	if len(v.Data) == 0 {
		return 0, 0
	}
	min, max = math.Inf(1), math.Inf(-1)
	for _, value := range v.Data {
		if value < min {
			min = value
		}
		if value > max {
			max = value
		}
	}
	return min, max
}

// SameShape reports whether two lattices have identical dimensions
func SameShape(aw, ah, ad, bw, bh, bd int) bool {
	return aw == bw && ah == bh && ad == bd
}

// String implements fmt.Stringer
func (v *Volume) String() string {
	return fmt.Sprintf("%dx%dx%d (%.3gx%.3gx%.3g %s)", v.Width, v.Height, v.Depth,
		v.Calibration.VoxelX, v.Calibration.VoxelY, v.Calibration.VoxelZ, v.Calibration.Unit)
}

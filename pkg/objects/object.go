// Package objects extracts measurable 3D objects from a labeled volume.
package objects

import (
	"fmt"

	"github.com/golang/geo/r3"

	"particlecount3d/internal/models"
)

// Voxel is one member voxel of an object together with its intensity
type Voxel struct {
	X, Y, Z int
	Value   float64
}

// Object is one labeled 3D object and its measurements
type Object struct {
	ID   int
	Name string

	Voxels     []Voxel
	VoxelCount int

	// VolumeUnit is the volume in calibrated units (voxel count times voxel volume)
	VolumeUnit float64

	// Centroid is the mean voxel position, in voxel coordinates
	Centroid r3.Vector

	// Feret is the largest distance between two surface voxels, in calibrated units
	Feret float64

	MeanIntensity float64

	// Min and Max are the inclusive voxel bounds of the object
	Min, Max [3]int

	// TouchesXY reports a voxel on an x or y face of the volume, TouchesZ on the first or last slice
	TouchesXY bool
	TouchesZ  bool
}

// TouchesBorder reports whether the object touches the volume border. The z
// faces only count when includeZ is set.
func (o Object) TouchesBorder(includeZ bool) bool {
	return o.TouchesXY || (includeZ && o.TouchesZ)
}

// Translate returns a copy of the object moved by (dx, dy, dz) voxels.
// Measurements and border flags are unchanged.
func (o Object) Translate(dx, dy, dz int) Object {
	moved := o
	moved.Voxels = make([]Voxel, len(o.Voxels))
	for i, v := range o.Voxels {
		moved.Voxels[i] = Voxel{X: v.X + dx, Y: v.Y + dy, Z: v.Z + dz, Value: v.Value}
	}
	moved.Centroid = o.Centroid.Add(r3.Vector{X: float64(dx), Y: float64(dy), Z: float64(dz)})
	moved.Min = [3]int{o.Min[0] + dx, o.Min[1] + dy, o.Min[2] + dz}
	moved.Max = [3]int{o.Max[0] + dx, o.Max[1] + dy, o.Max[2] + dz}
	return moved
}

// String returns a short description of the object
func (o Object) String() string {
	return fmt.Sprintf("%s: %d voxels, volume %.3f, feret %.3f", o.Name, o.VoxelCount, o.VolumeUnit, o.Feret)
}

// Population is the ordered set of objects found in one volume
type Population struct {
	Objects []Object

	// Width, Height and Depth are the dimensions of the volume the objects came from
	Width, Height, Depth int

	Calibration models.Calibration

	// Offset is the translation already applied to every object
	Offset models.Offset
}

// Len returns the number of objects
func (p *Population) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Objects)
}

// Labels returns the object IDs in population order
func (p *Population) Labels() []int {
	ids := make([]int, 0, p.Len())
	for _, o := range p.Objects {
		ids = append(ids, o.ID)
	}
	return ids
}

// WithObjects returns a population with the same frame and the given objects
func (p *Population) WithObjects(objs []Object) *Population {
	return &Population{
		Objects:     objs,
		Width:       p.Width,
		Height:      p.Height,
		Depth:       p.Depth,
		Calibration: p.Calibration,
		Offset:      p.Offset,
	}
}

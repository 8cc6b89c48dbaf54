package models

import "sort"

// LabelVolume is an integer-labeled lattice where 0 is background and
// each positive value identifies one object. Marker volumes use the same type.
type LabelVolume struct {
	// Labels stores one label per voxel, same ordering as Volume.Data
	Labels []int32

	// Width, Height, Depth are the lattice dimensions
	Width, Height, Depth int

	// Calibration is inherited from the volume the labels were derived from
	Calibration Calibration
}

// NewLabelVolume allocates an all-background label volume
func NewLabelVolume(width, height, depth int, cal Calibration) *LabelVolume {
	return &LabelVolume{
		Labels:      make([]int32, width*height*depth),
		Width:       width,
		Height:      height,
		Depth:       depth,
		Calibration: cal,
	}
}

// NewLabelVolumeLike allocates an all-background label volume shaped like v
func NewLabelVolumeLike(v *Volume) *LabelVolume {
	return NewLabelVolume(v.Width, v.Height, v.Depth, v.Calibration)
}

// Index returns the linear index of voxel (x, y, z)
func (l *LabelVolume) Index(x, y, z int) int {
	return z*l.Width*l.Height + y*l.Width + x
}

// Coords converts a linear index back into (x, y, z)
func (l *LabelVolume) Coords(idx int) (x, y, z int) {
	plane := l.Width * l.Height
	z = idx / plane
	rem := idx % plane
	return rem % l.Width, rem / l.Width, z
}

// At returns the label at (x, y, z)
func (l *LabelVolume) At(x, y, z int) int32 {
	return l.Labels[l.Index(x, y, z)]
}

// Set stores a label at (x, y, z)
func (l *LabelVolume) Set(x, y, z int, label int32) {
	l.Labels[l.Index(x, y, z)] = label
}

// InBounds reports whether (x, y, z) lies inside the lattice
func (l *LabelVolume) InBounds(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < l.Width && y < l.Height && z < l.Depth
}

// Len returns the number of voxels
func (l *LabelVolume) Len() int {
	return l.Width * l.Height * l.Depth
}

// ShapeOf reports whether l has the same dimensions as v
func (l *LabelVolume) ShapeOf(v *Volume) bool {
	return SameShape(l.Width, l.Height, l.Depth, v.Width, v.Height, v.Depth)
}

// Clone returns a deep copy
func (l *LabelVolume) Clone() *LabelVolume {
	out := NewLabelVolume(l.Width, l.Height, l.Depth, l.Calibration)
	copy(out.Labels, l.Labels)
	return out
}

// MaxLabel returns the largest label present
func (l *LabelVolume) MaxLabel() int32 {
	var max int32
	for _, label := range l.Labels {
		if label > max {
			max = label
		}
	}
	return max
}

// Distinct returns the distinct positive labels in ascending order
func (l *LabelVolume) Distinct() []int32 {
	seen := make(map[int32]struct{})
	for _, label := range l.Labels {
		if label > 0 {
			seen[label] = struct{}{}
		}
	}
	out := make([]int32, 0, len(seen))
	for label := range seen {
		out = append(out, label)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Relabel returns a copy whose labels are the contiguous range 1..n,
// preserving the ascending order of the original labels.
func (l *LabelVolume) Relabel() *LabelVolume {
	distinct := l.Distinct()
	mapping := make(map[int32]int32, len(distinct))
	for i, label := range distinct {
		mapping[label] = int32(i + 1)
	}
	out := NewLabelVolume(l.Width, l.Height, l.Depth, l.Calibration)
	for i, label := range l.Labels {
		if label > 0 {
			out.Labels[i] = mapping[label]
		}
	}
	return out
}

// Offset is a lattice step to a neighbouring voxel
type Offset struct {
	DX, DY, DZ int
}

// Neighbors6 are the face-connected neighbours
var Neighbors6 = []Offset{
	{-1, 0, 0}, {1, 0, 0},
	{0, -1, 0}, {0, 1, 0},
	{0, 0, -1}, {0, 0, 1},
}

// Neighbors26 are the face, edge and corner connected neighbours
var Neighbors26 = func() []Offset {
	out := make([]Offset, 0, 26)
	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx == 0 && dy == 0 && dz == 0 {
					continue
				}
				out = append(out, Offset{dx, dy, dz})
			}
		}
	}
	return out
}()

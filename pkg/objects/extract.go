package objects

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/stat"

	"particlecount3d/internal/models"
	"particlecount3d/internal/parallel"
)

// ErrShapeMismatch is returned when the label and intensity volumes differ in shape
var ErrShapeMismatch = errors.New("label and intensity volumes differ in shape")

// Options controls population extraction
type Options struct {
	// Workers bounds the number of objects measured concurrently (< 1 means all CPUs)
	Workers int
}

// Extract builds one Object per distinct positive label, in ascending label
// order, measuring each against the intensity volume.
func Extract(labels *models.LabelVolume, intensity *models.Volume, opts Options) (*Population, error) {
	if labels == nil || intensity == nil || !labels.ShapeOf(intensity) {
		return nil, ErrShapeMismatch
	}

	ids := labels.Distinct()
	index := make(map[int32]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}

	members := make([][]int, len(ids))
	for idx, label := range labels.Labels {
		if label > 0 {
			k := index[label]
			members[k] = append(members[k], idx)
		}
	}

	objs := make([]Object, len(ids))
	parallel.For(len(ids), opts.Workers, func(i int) {
		objs[i] = measure(int(ids[i]), members[i], labels, intensity)
	})

	return &Population{
		Objects:     objs,
		Width:       labels.Width,
		Height:      labels.Height,
		Depth:       labels.Depth,
		Calibration: labels.Calibration,
	}, nil
}

func measure(id int, indices []int, labels *models.LabelVolume, intensity *models.Volume) Object {
	cal := labels.Calibration
	obj := Object{
		ID:         id,
		Name:       fmt.Sprintf("Obj%d", id),
		Voxels:     make([]Voxel, len(indices)),
		VoxelCount: len(indices),
		VolumeUnit: float64(len(indices)) * cal.VoxelVolume(),
		Min:        [3]int{math.MaxInt32, math.MaxInt32, math.MaxInt32},
		Max:        [3]int{-1, -1, -1},
	}

	values := make([]float64, len(indices))
	var sum r3.Vector
	var lines hullLines

	for i, idx := range indices {
		x, y, z := labels.Coords(idx)
		value := intensity.Data[idx]
		obj.Voxels[i] = Voxel{X: x, Y: y, Z: z, Value: value}
		values[i] = value
		sum = sum.Add(r3.Vector{X: float64(x), Y: float64(y), Z: float64(z)})

		for a, c := range [3]int{x, y, z} {
			if c < obj.Min[a] {
				obj.Min[a] = c
			}
			if c > obj.Max[a] {
				obj.Max[a] = c
			}
		}

		if x == 0 || y == 0 || x == labels.Width-1 || y == labels.Height-1 {
			obj.TouchesXY = true
		}
		if z == 0 || z == labels.Depth-1 {
			obj.TouchesZ = true
		}

		lines.add(x, y, z)
	}

	var candidates []r3.Vector
	for _, v := range obj.Voxels {
		if lines.extreme(v.X, v.Y, v.Z) {
			candidates = append(candidates, r3.Vector{
				X: float64(v.X) * cal.VoxelX,
				Y: float64(v.Y) * cal.VoxelY,
				Z: float64(v.Z) * cal.VoxelZ,
			})
		}
	}

	obj.Centroid = sum.Mul(1 / float64(len(indices)))
	obj.MeanIntensity = stat.Mean(values, nil)
	obj.Feret = feret(candidates)

	return obj
}

// span is the extent of an object along one axis-parallel line of voxels
type span struct{ lo, hi int }

func (s *span) add(c int) {
	if c < s.lo {
		s.lo = c
	}
	if c > s.hi {
		s.hi = c
	}
}

// hullLines records, for every axis-parallel line through an object, the
// first and last voxel on it. A vertex of the object's convex hull is an end
// of all three lines through it, so the farthest pair is found among those
// voxels.
type hullLines struct {
	alongX, alongY, alongZ map[[2]int]*span
}

func (h *hullLines) add(x, y, z int) {
	if h.alongX == nil {
		h.alongX = make(map[[2]int]*span)
		h.alongY = make(map[[2]int]*span)
		h.alongZ = make(map[[2]int]*span)
	}
	extend(h.alongX, [2]int{y, z}, x)
	extend(h.alongY, [2]int{x, z}, y)
	extend(h.alongZ, [2]int{x, y}, z)
}

func extend(lines map[[2]int]*span, key [2]int, c int) {
	if s, ok := lines[key]; ok {
		s.add(c)
		return
	}
	lines[key] = &span{lo: c, hi: c}
}

func (h *hullLines) extreme(x, y, z int) bool {
	end := func(s *span, c int) bool { return c == s.lo || c == s.hi }
	return end(h.alongX[[2]int{y, z}], x) &&
		end(h.alongY[[2]int{x, z}], y) &&
		end(h.alongZ[[2]int{x, y}], z)
}

// feret is the largest pairwise distance between the given points
func feret(points []r3.Vector) float64 {
	best := 0.0
	for i := range points {
		for j := i + 1; j < len(points); j++ {
			if d := points[i].Sub(points[j]).Norm2(); d > best {
				best = d
			}
		}
	}
	return math.Sqrt(best)
}

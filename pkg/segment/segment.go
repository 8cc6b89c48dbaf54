// Package segment turns a preprocessed volume into a labeled volume, either by
// marker-controlled watershed or by iterative thresholding.
package segment

import (
	"errors"

	"particlecount3d/internal/models"
)

// ErrSegmentation is returned when a segmentation cannot be computed
var ErrSegmentation = errors.New("segmentation failed")

// SegmentationEngine produces a labeled volume of the same shape and calibration
// as its input. markers may be nil for engines that find their own seeds.
type SegmentationEngine interface {
	Segment(v *models.Volume, markers *models.LabelVolume) (*models.LabelVolume, error)
}

// EngineFunc adapts a function to the SegmentationEngine interface
type EngineFunc func(v *models.Volume, markers *models.LabelVolume) (*models.LabelVolume, error)

// Segment implements SegmentationEngine
func (f EngineFunc) Segment(v *models.Volume, markers *models.LabelVolume) (*models.LabelVolume, error) {
	return f(v, markers)
}

// Components consolidates a labeling: every 26-connected set of voxels sharing a
// label becomes one object, numbered 1..n in scan order. Objects smaller than
// minSize or larger than maxSize voxels are dropped (maxSize <= 0 means no limit).
func Components(labels *models.LabelVolume, minSize, maxSize int) *models.LabelVolume {
	_, groups := connected(labels.Width, labels.Height, labels.Depth,
		func(i int) bool { return labels.Labels[i] > 0 },
		func(i, j int) bool { return labels.Labels[i] == labels.Labels[j] },
	)

	out := models.NewLabelVolume(labels.Width, labels.Height, labels.Depth, labels.Calibration)
	next := int32(0)
	for _, voxels := range groups {
		if len(voxels) < minSize || (maxSize > 0 && len(voxels) > maxSize) {
			continue
		}
		next++
		for _, idx := range voxels {
			out.Labels[idx] = next
		}
	}
	return out
}

// connected labels the 26-connected components of foreground voxels, where two
// neighbouring voxels join when same reports true. Components are numbered from 1
// in scan order; groups[k] holds the voxel indices of component k+1.
func connected(width, height, depth int, fg func(i int) bool, same func(i, j int) bool) ([]int32, [][]int) {
	n := width * height * depth
	comp := make([]int32, n)
	plane := width * height

	var groups [][]int
	queue := make([]int, 0, 64)

	for start := 0; start < n; start++ {
		if comp[start] != 0 || !fg(start) {
			continue
		}

		label := int32(len(groups) + 1)
		comp[start] = label
		queue = append(queue[:0], start)
		var members []int

		for len(queue) > 0 {
			idx := queue[0]
			queue = queue[1:]
			members = append(members, idx)

			z := idx / plane
			rem := idx % plane
			y, x := rem/width, rem%width

			for _, o := range models.Neighbors26 {
				nx, ny, nz := x+o.DX, y+o.DY, z+o.DZ
				if nx < 0 || ny < 0 || nz < 0 || nx >= width || ny >= height || nz >= depth {
					continue
				}
				nIdx := nz*plane + ny*width + nx
				if comp[nIdx] != 0 || !fg(nIdx) || !same(idx, nIdx) {
					continue
				}
				comp[nIdx] = label
				queue = append(queue, nIdx)
			}
		}

		groups = append(groups, members)
	}

	return comp, groups
}

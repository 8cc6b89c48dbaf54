package segment

import (
	"container/heap"
	"fmt"
	"sort"

	"particlecount3d/internal/models"
)

// Watershed is a marker-controlled watershed in the style of the H-watershed plugin.
//
// With markers, every marker voxel floods outward over face-connected neighbours,
// brightest first. Without markers, the seeds are the regional maxima whose
// dynamic is at least SeedThreshold.
type Watershed struct {
	// SeedThreshold is the minimum dynamic (h) of a maximum used as seed
	SeedThreshold float64

	// ImageThreshold is the lowest intensity a region may claim
	ImageThreshold float64

	// PeakFlooding is the percentage of each region's height, from its peak down
	// to ImageThreshold, that the region keeps. 100 keeps the full region.
	PeakFlooding float64

	// AllowSplit lets several seeds of one connected component form separate regions
	AllowSplit bool

	// Mask optionally restricts the claimable voxels to its foreground
	Mask *models.LabelVolume
}

// Segment implements SegmentationEngine
func (w Watershed) Segment(v *models.Volume, markers *models.LabelVolume) (*models.LabelVolume, error) {
	if v.Empty() {
		return nil, fmt.Errorf("%w: empty volume", ErrSegmentation)
	}
	if markers != nil && !markers.ShapeOf(v) {
		return nil, fmt.Errorf("%w: marker volume %dx%dx%d does not match %dx%dx%d", ErrSegmentation,
			markers.Width, markers.Height, markers.Depth, v.Width, v.Height, v.Depth)
	}
	if w.Mask != nil && !w.Mask.ShapeOf(v) {
		return nil, fmt.Errorf("%w: mask does not match the volume", ErrSegmentation)
	}
	if w.PeakFlooding < 0 || w.PeakFlooding > 100 {
		return nil, fmt.Errorf("%w: peak flooding %g outside [0, 100]", ErrSegmentation, w.PeakFlooding)
	}

	if markers == nil {
		markers = w.Maxima(v)
	}

	labels := w.flood(v, markers)
	if w.PeakFlooding < 100 {
		labels = w.peakFlood(v, labels)
	}
	return labels, nil
}

func (w Watershed) claimable(v *models.Volume, idx int) bool {
	if v.Data[idx] < w.ImageThreshold {
		return false
	}
	return w.Mask == nil || w.Mask.Labels[idx] > 0
}

// floodItem is one queued voxel. dist counts the steps from the seed the item
// was grown from; seq keeps the queue order total.
type floodItem struct {
	value float64
	dist  int
	label int32
	seq   int
	idx   int
	seed  bool
}

type floodQueue []floodItem

func (q floodQueue) Len() int { return len(q) }

// Less orders brightest first, then nearest to its seed, then lowest label
func (q floodQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	if a.value != b.value {
		return a.value > b.value
	}
	if a.dist != b.dist {
		return a.dist < b.dist
	}
	if a.label != b.label {
		return a.label < b.label
	}
	return a.seq < b.seq
}
func (q floodQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *floodQueue) Push(x interface{}) { *q = append(*q, x.(floodItem)) }
func (q *floodQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// flood grows every marker over claimable voxels. Marker voxels that are not
// claimable are dropped. A voxel is assigned when it leaves the queue, so a
// voxel reached by two regions at the same intensity and distance goes to the
// lower label.
func (w Watershed) flood(v *models.Volume, markers *models.LabelVolume) *models.LabelVolume {
	labels := models.NewLabelVolumeLike(v)

	q := make(floodQueue, 0)
	seq := 0
	for idx, label := range markers.Labels {
		if label <= 0 || !w.claimable(v, idx) {
			continue
		}
		labels.Labels[idx] = label
		q = append(q, floodItem{value: v.Data[idx], label: label, seq: seq, idx: idx, seed: true})
		seq++
	}
	heap.Init(&q)

	for q.Len() > 0 {
		item := heap.Pop(&q).(floodItem)
		if !item.seed {
			if labels.Labels[item.idx] != 0 {
				continue
			}
			labels.Labels[item.idx] = item.label
		}

		x, y, z := v.Coords(item.idx)
		for _, o := range models.Neighbors6 {
			nx, ny, nz := x+o.DX, y+o.DY, z+o.DZ
			if !v.InBounds(nx, ny, nz) {
				continue
			}
			nIdx := v.Index(nx, ny, nz)
			if labels.Labels[nIdx] != 0 || !w.claimable(v, nIdx) {
				continue
			}
			heap.Push(&q, floodItem{value: v.Data[nIdx], dist: item.dist + 1, label: item.label, seq: seq, idx: nIdx})
			seq++
		}
	}

	return labels
}

// Maxima finds the seed voxels of the significant regional maxima.
// Voxels are merged from the brightest down to ImageThreshold with a union-find;
// when two components meet, the one with the lower peak ends there and becomes
// a seed if its dynamic (peak minus meeting level) is at least SeedThreshold.
// Components that never meet are measured against ImageThreshold.
func (w Watershed) Maxima(v *models.Volume) *models.LabelVolume {
	n := v.Len()
	order := make([]int, 0, n)
	for idx := 0; idx < n; idx++ {
		if w.claimable(v, idx) {
			order = append(order, idx)
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		return v.Data[order[i]] > v.Data[order[j]]
	})

	parent := make([]int, n)
	for i := range parent {
		parent[i] = -1
	}
	peakIdx := make([]int, n)

	var find func(i int) int
	find = func(i int) int {
		root := i
		for parent[root] != root {
			root = parent[root]
		}
		for parent[i] != root {
			parent[i], i = root, parent[i]
		}
		return root
	}

	// higher reports whether the peak of root a outranks the peak of root b
	higher := func(a, b int) bool {
		pa, pb := peakIdx[a], peakIdx[b]
		if v.Data[pa] != v.Data[pb] {
			return v.Data[pa] > v.Data[pb]
		}
		return pa < pb
	}

	isSeed := make(map[int]bool)

	for _, p := range order {
		parent[p] = p
		peakIdx[p] = p
		level := v.Data[p]
		x, y, z := v.Coords(p)

		for _, o := range models.Neighbors6 {
			nx, ny, nz := x+o.DX, y+o.DY, z+o.DZ
			if !v.InBounds(nx, ny, nz) {
				continue
			}
			nIdx := v.Index(nx, ny, nz)
			if parent[nIdx] == -1 {
				continue
			}

			a, b := find(p), find(nIdx)
			if a == b {
				continue
			}
			if !higher(a, b) {
				a, b = b, a
			}
			// b's maximum ends at this level
			if v.Data[peakIdx[b]]-level >= w.SeedThreshold && peakIdx[b] != p {
				isSeed[peakIdx[b]] = true
			}
			parent[b] = a
		}
	}

	for _, p := range order {
		if find(p) == p && v.Data[peakIdx[p]]-w.ImageThreshold >= w.SeedThreshold {
			isSeed[peakIdx[p]] = true
		}
	}

	seeds := make([]int, 0, len(isSeed))
	for idx := range isSeed {
		seeds = append(seeds, idx)
	}
	sort.Ints(seeds)

	markers := models.NewLabelVolumeLike(v)
	rootLabel := make(map[int]int32)
	next := int32(0)
	for _, idx := range seeds {
		if w.AllowSplit {
			next++
			markers.Labels[idx] = next
			continue
		}
		root := find(idx)
		label, ok := rootLabel[root]
		if !ok {
			next++
			label = next
			rootLabel[root] = label
		}
		markers.Labels[idx] = label
	}

	return markers
}

// peakFlood trims each region to the voxels within PeakFlooding percent of its
// height above ImageThreshold
func (w Watershed) peakFlood(v *models.Volume, labels *models.LabelVolume) *models.LabelVolume {
	peaks := make(map[int32]float64)
	for idx, label := range labels.Labels {
		if label == 0 {
			continue
		}
		if p, ok := peaks[label]; !ok || v.Data[idx] > p {
			peaks[label] = v.Data[idx]
		}
	}

	out := labels.Clone()
	for idx, label := range out.Labels {
		if label == 0 {
			continue
		}
		peak := peaks[label]
		cutoff := peak - (peak-w.ImageThreshold)*w.PeakFlooding/100
		if v.Data[idx] < cutoff {
			out.Labels[idx] = 0
		}
	}
	return out
}

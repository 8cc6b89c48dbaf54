package segment

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"particlecount3d/internal/models"
)

// Criterion scores a candidate region at one threshold level; the best scoring
// level of each tracked region is kept.
type Criterion int

const (
	// CriterionEdges favours levels with the largest intensity step across the region boundary
	CriterionEdges Criterion = iota

	// CriterionMSER favours levels where the region volume is most stable
	CriterionMSER

	// CriterionElongation favours the most compact (least elongated) level
	CriterionElongation
)

// SplitMethod decides whether a region that breaks into several children at a
// higher threshold is really several objects
type SplitMethod int

const (
	// SplitKMeans clusters the parent's intensities into two populations and accepts
	// the split when at least two children reach the bright population
	SplitKMeans SplitMethod = iota

	// SplitContrast accepts the split when at least two children rise MinContrast above the level
	SplitContrast
)

// ParseCriterion converts a configuration name into a Criterion
func ParseCriterion(name string) (Criterion, error) {
	switch name {
	case "edges", "":
		return CriterionEdges, nil
	case "mser":
		return CriterionMSER, nil
	case "elongation":
		return CriterionElongation, nil
	}
	return 0, fmt.Errorf("unknown criterion %q", name)
}

// ParseSplitMethod converts a configuration name into a SplitMethod
func ParseSplitMethod(name string) (SplitMethod, error) {
	switch name {
	case "kmeans", "":
		return SplitKMeans, nil
	case "contrast":
		return SplitContrast, nil
	}
	return 0, fmt.Errorf("unknown split method %q", name)
}

// IterativeThreshold segments by sweeping an intensity threshold upward and
// tracking connected components across levels, in the manner of the 3D Suite
// iterative thresholding.
type IterativeThreshold struct {
	// MinVolume and MaxVolume bound the voxel count of a candidate region
	MinVolume, MaxVolume int

	// MinContrast is the intensity contrast required to accept a split
	MinContrast float64

	// Step is the threshold increment
	Step float64

	// StartThreshold is the first level
	StartThreshold float64

	Criteria Criterion
	Split    SplitMethod
}

// region is one candidate component at one level
type region struct {
	voxels []int
	level  float64
	peak   float64
}

// track follows one candidate object across threshold levels
type track struct {
	pending   *region
	best      *region
	bestScore float64
	active    bool
	dropped   bool
}

const deadTrack = -1

// Segment implements SegmentationEngine. Markers are ignored.
func (it IterativeThreshold) Segment(v *models.Volume, _ *models.LabelVolume) (*models.LabelVolume, error) {
	if v.Empty() {
		return nil, fmt.Errorf("%w: empty volume", ErrSegmentation)
	}
	if it.Step <= 0 {
		return nil, fmt.Errorf("%w: threshold step must be positive", ErrSegmentation)
	}
	minVol := it.MinVolume
	if minVol < 1 {
		minVol = 1
	}

	_, maxValue := v.MinMax()

	var tracks []*track
	var prevComp []int32
	prevTrack := map[int32]int{}

	for t := it.StartThreshold; t <= maxValue; t += it.Step {
		level := t
		comp, groups := connected(v.Width, v.Height, v.Depth,
			func(i int) bool { return v.Data[i] >= level },
			func(i, j int) bool { return true },
		)

		children := map[int][]*region{}
		childLabel := map[*region]int32{}
		var orphans []*region
		nextTrack := map[int32]int{}

		for k, voxels := range groups {
			label := int32(k + 1)

			parentTrack, hasParent := 0, false
			if prevComp != nil {
				parentTrack, hasParent = prevTrack[prevComp[voxels[0]]]
			}
			if hasParent && parentTrack == deadTrack {
				nextTrack[label] = deadTrack
				continue
			}

			if len(voxels) < minVol || (it.MaxVolume > 0 && len(voxels) > it.MaxVolume) {
				continue
			}

			r := &region{voxels: voxels, level: level, peak: peakOf(v, voxels)}
			childLabel[r] = label
			if hasParent {
				children[parentTrack] = append(children[parentTrack], r)
			} else {
				orphans = append(orphans, r)
			}
		}

		for ti, tr := range tracks {
			if tr.active && len(children[ti]) == 0 {
				it.finalize(v, tr)
			}
		}

		parents := make([]int, 0, len(children))
		for ti := range children {
			parents = append(parents, ti)
		}
		sort.Ints(parents)

		for _, ti := range parents {
			kids := children[ti]
			tr := tracks[ti]

			if len(kids) == 1 {
				it.advance(v, tr, kids[0])
				nextTrack[childLabel[kids[0]]] = ti
				continue
			}

			if it.acceptSplit(v, tr, kids, level) {
				tr.active = false
				tr.dropped = true
				for _, kid := range kids {
					tracks = append(tracks, &track{pending: kid, active: true})
					nextTrack[childLabel[kid]] = len(tracks) - 1
				}
				continue
			}

			// Not a real split: the largest child continues, the rest are noise
			sort.SliceStable(kids, func(i, j int) bool { return len(kids[i].voxels) > len(kids[j].voxels) })
			it.advance(v, tr, kids[0])
			nextTrack[childLabel[kids[0]]] = ti
			for _, kid := range kids[1:] {
				nextTrack[childLabel[kid]] = deadTrack
			}
		}

		for _, r := range orphans {
			tracks = append(tracks, &track{pending: r, active: true})
			nextTrack[childLabel[r]] = len(tracks) - 1
		}

		// Components over MaxVolume carry no track; keep sweeping so their
		// cores are found once they shrink into range
		prevComp = comp
		prevTrack = nextTrack
	}

	for _, tr := range tracks {
		if tr.active {
			it.finalize(v, tr)
		}
	}

	out := models.NewLabelVolumeLike(v)
	next := int32(0)
	for _, tr := range tracks {
		if tr.dropped || tr.best == nil {
			continue
		}
		next++
		for _, idx := range tr.best.voxels {
			out.Labels[idx] = next
		}
	}

	return out, nil
}

// advance scores the track's pending level now that its successor is known
func (it IterativeThreshold) advance(v *models.Volume, tr *track, next *region) {
	it.consider(v, tr, tr.pending, len(next.voxels))
	tr.pending = next
}

// finalize scores the last pending level and closes the track
func (it IterativeThreshold) finalize(v *models.Volume, tr *track) {
	if tr.pending != nil {
		it.consider(v, tr, tr.pending, 0)
		tr.pending = nil
	}
	tr.active = false
}

func (it IterativeThreshold) consider(v *models.Volume, tr *track, r *region, nextVolume int) {
	score := it.score(v, r, nextVolume)
	if tr.best == nil || score > tr.bestScore {
		tr.best = r
		tr.bestScore = score
	}
}

// score rates a region; higher is better
func (it IterativeThreshold) score(v *models.Volume, r *region, nextVolume int) float64 {
	switch it.Criteria {
	case CriterionMSER:
		vol := float64(len(r.voxels))
		return -(vol - float64(nextVolume)) / vol
	case CriterionElongation:
		return -elongation(v, r.voxels)
	default:
		return edgeContrast(v, r.voxels)
	}
}

// acceptSplit decides whether the children of a track are separate objects
func (it IterativeThreshold) acceptSplit(v *models.Volume, tr *track, kids []*region, level float64) bool {
	significant := 0

	switch it.Split {
	case SplitContrast:
		for _, kid := range kids {
			if kid.peak-level >= it.MinContrast {
				significant++
			}
		}

	default:
		values := make([]float64, len(tr.pending.voxels))
		for i, idx := range tr.pending.voxels {
			values[i] = v.Data[idx]
		}
		low, high := kMeans2(values)
		if high-low < it.MinContrast {
			return false
		}
		for _, kid := range kids {
			if kid.peak >= high {
				significant++
			}
		}
	}

	return significant >= 2
}

// kMeans2 clusters one-dimensional values into two groups with Lloyd iterations
// and returns the two centroids in ascending order
func kMeans2(values []float64) (low, high float64) {
	if len(values) == 0 {
		return 0, 0
	}

	low, high = values[0], values[0]
	for _, value := range values {
		low = math.Min(low, value)
		high = math.Max(high, value)
	}
	if low == high {
		return low, high
	}

	var lower, upper []float64
	for iter := 0; iter < 50; iter++ {
		lower, upper = lower[:0], upper[:0]
		for _, value := range values {
			if math.Abs(value-low) <= math.Abs(value-high) {
				lower = append(lower, value)
			} else {
				upper = append(upper, value)
			}
		}
		if len(lower) == 0 || len(upper) == 0 {
			break
		}

		newLow, newHigh := stat.Mean(lower, nil), stat.Mean(upper, nil)
		if newLow == low && newHigh == high {
			break
		}
		low, high = newLow, newHigh
	}

	return low, high
}

// edgeContrast is the mean intensity step from boundary voxels to their outside face neighbours
func edgeContrast(v *models.Volume, voxels []int) float64 {
	inside := make(map[int]struct{}, len(voxels))
	for _, idx := range voxels {
		inside[idx] = struct{}{}
	}

	sum, count := 0.0, 0
	for _, idx := range voxels {
		x, y, z := v.Coords(idx)
		for _, o := range models.Neighbors6 {
			nx, ny, nz := x+o.DX, y+o.DY, z+o.DZ
			if !v.InBounds(nx, ny, nz) {
				continue
			}
			nIdx := v.Index(nx, ny, nz)
			if _, ok := inside[nIdx]; ok {
				continue
			}
			sum += v.Data[idx] - v.Data[nIdx]
			count++
		}
	}

	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// elongation is the ratio of the two largest principal axes of the region, in physical units
func elongation(v *models.Volume, voxels []int) float64 {
	n := float64(len(voxels))
	if n < 2 {
		return math.Inf(1)
	}

	cal := v.Calibration
	var mean [3]float64
	coords := make([][3]float64, len(voxels))
	for i, idx := range voxels {
		x, y, z := v.Coords(idx)
		coords[i] = [3]float64{float64(x) * cal.VoxelX, float64(y) * cal.VoxelY, float64(z) * cal.VoxelZ}
		for a := 0; a < 3; a++ {
			mean[a] += coords[i][a] / n
		}
	}

	cov := mat.NewSymDense(3, nil)
	for a := 0; a < 3; a++ {
		for b := a; b < 3; b++ {
			s := 0.0
			for _, c := range coords {
				s += (c[a] - mean[a]) * (c[b] - mean[b])
			}
			cov.SetSym(a, b, s/n)
		}
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(cov, false); !ok {
		return math.Inf(1)
	}
	values := eig.Values(nil)
	sort.Float64s(values)

	major, middle := values[2], values[1]
	if middle <= 1e-12 {
		return math.Inf(1)
	}
	return math.Sqrt(major / middle)
}

func peakOf(v *models.Volume, voxels []int) float64 {
	peak := math.Inf(-1)
	for _, idx := range voxels {
		peak = math.Max(peak, v.Data[idx])
	}
	return peak
}

package objects

import (
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// centroid is an object centroid in calibrated units
type centroid struct {
	X, Y, Z float64
	ID      int
}

// Compare implements the kdtree.Comparable interface
func (p centroid) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(centroid)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	case 2:
		return p.Z - q.Z
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions for the KD-tree
func (p centroid) Dims() int { return 3 }

// Distance returns the squared Euclidean distance between two centroids
func (p centroid) Distance(c kdtree.Comparable) float64 {
	q := c.(centroid)
	dx := p.X - q.X
	dy := p.Y - q.Y
	dz := p.Z - q.Z
	return dx*dx + dy*dy + dz*dz
}

// centroids satisfies kdtree.Interface
type centroids []centroid

func (p centroids) Index(i int) kdtree.Comparable         { return p[i] }
func (p centroids) Len() int                              { return len(p) }
func (p centroids) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot implements the kdtree.Interface method
func (p centroids) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(centroidPlane{centroids: p, Dim: d}, kdtree.MedianOfRandoms(centroidPlane{centroids: p, Dim: d}, 100))
}

// centroidPlane implements sort.Interface and kdtree.SortSlicer for centroids
type centroidPlane struct {
	centroids
	kdtree.Dim
}

func (p centroidPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.centroids[i].X < p.centroids[j].X
	case 1:
		return p.centroids[i].Y < p.centroids[j].Y
	case 2:
		return p.centroids[i].Z < p.centroids[j].Z
	default:
		panic("illegal dimension")
	}
}

func (p centroidPlane) Slice(start, end int) kdtree.SortSlicer {
	return centroidPlane{centroids: p.centroids[start:end], Dim: p.Dim}
}

func (p centroidPlane) Swap(i, j int) {
	p.centroids[i], p.centroids[j] = p.centroids[j], p.centroids[i]
}

// NearestNeighborDistances returns, for each object in order, the calibrated
// distance from its centroid to the nearest other centroid. With fewer than two
// objects every distance is +Inf.
func (p *Population) NearestNeighborDistances() []float64 {
	n := p.Len()
	dists := make([]float64, n)
	if n < 2 {
		for i := range dists {
			dists[i] = math.Inf(1)
		}
		return dists
	}

	cal := p.Calibration
	points := make(centroids, n)
	for i, o := range p.Objects {
		points[i] = centroid{
			X:  o.Centroid.X * cal.VoxelX,
			Y:  o.Centroid.Y * cal.VoxelY,
			Z:  o.Centroid.Z * cal.VoxelZ,
			ID: i,
		}
	}
	queries := make([]centroid, n)
	copy(queries, points)

	// New reorders points in place, the queries keep population order
	tree := kdtree.New(points, false)

	for i, q := range queries {
		keeper := kdtree.NewNKeeper(2)
		tree.NearestSet(keeper, q)

		dists[i] = math.Inf(1)
		for _, item := range keeper.Heap {
			c, ok := item.Comparable.(centroid)
			if !ok || c.ID == q.ID {
				continue
			}
			if d := math.Sqrt(item.Dist); d < dists[i] {
				dists[i] = d
			}
		}
	}

	return dists
}

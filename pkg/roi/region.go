// Package roi describes the region of interest a run is confined to and
// how it is obtained from the operator.
package roi

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// ErrInvalidRegion is returned when a region is empty or exceeds the source volume
var ErrInvalidRegion = errors.New("invalid region of interest")

// Region is a 2D polygon in pixel coordinates extruded over a slice range.
// LastSlice < 0 means "through the last slice of the volume".
type Region struct {
	Polygon    orb.Polygon
	FirstSlice int
	LastSlice  int
	rect       bool
}

// NewRectangle creates a rectangular region covering pixels [x, x+w) × [y, y+h)
func NewRectangle(x, y, w, h, firstSlice, lastSlice int) Region {
	x0, y0 := float64(x), float64(y)
	x1, y1 := float64(x+w), float64(y+h)
	ring := orb.Ring{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}
	return Region{
		Polygon:    orb.Polygon{ring},
		FirstSlice: firstSlice,
		LastSlice:  lastSlice,
		rect:       true,
	}
}

// NewPolygon creates a polygonal region from its vertices. The ring is closed if needed.
func NewPolygon(points []orb.Point, firstSlice, lastSlice int) Region {
	ring := make(orb.Ring, len(points), len(points)+1)
	copy(ring, points)
	if len(ring) > 0 && !ring.Closed() {
		ring = append(ring, ring[0])
	}
	return Region{
		Polygon:    orb.Polygon{ring},
		FirstSlice: firstSlice,
		LastSlice:  lastSlice,
	}
}

// IsRectangle reports whether the region was built as an axis-aligned rectangle
func (r Region) IsRectangle() bool {
	return r.rect
}

// Area returns the polygon area in square pixels
func (r Region) Area() float64 {
	if len(r.Polygon) == 0 || len(r.Polygon[0]) < 4 {
		return 0
	}
	return math.Abs(planar.Area(r.Polygon))
}

// Bounds returns the integer bounding rectangle of the polygon
func (r Region) Bounds() image.Rectangle {
	if len(r.Polygon) == 0 || len(r.Polygon[0]) == 0 {
		return image.Rectangle{}
	}
	b := r.Polygon.Bound()
	return image.Rect(
		int(math.Floor(b.Min[0])),
		int(math.Floor(b.Min[1])),
		int(math.Ceil(b.Max[0])),
		int(math.Ceil(b.Max[1])),
	)
}

// SliceRange resolves the slice range against a volume depth
func (r Region) SliceRange(depth int) (first, last int) {
	first, last = r.FirstSlice, r.LastSlice
	if last < 0 {
		last = depth - 1
	}
	return first, last
}

// Origin returns the offset of the cropped sub-volume in the source frame
func (r Region) Origin() (x0, y0, z0 int) {
	b := r.Bounds()
	return b.Min.X, b.Min.Y, r.FirstSlice
}

// Contains reports whether the pixel (x, y), in source coordinates, lies inside the polygon.
// Pixels are tested at their centre.
func (r Region) Contains(x, y int) bool {
	if r.rect {
		return image.Pt(x, y).In(r.Bounds())
	}
	return planar.PolygonContains(r.Polygon, orb.Point{float64(x) + 0.5, float64(y) + 0.5})
}

// Validate checks the region against a source volume of the given shape
func (r Region) Validate(width, height, depth int) error {
	if r.Area() <= 0 {
		return fmt.Errorf("%w: empty area", ErrInvalidRegion)
	}

	b := r.Bounds()
	if b.Empty() {
		return fmt.Errorf("%w: empty bounds", ErrInvalidRegion)
	}
	if b.Min.X < 0 || b.Min.Y < 0 || b.Max.X > width || b.Max.Y > height {
		return fmt.Errorf("%w: bounds %v exceed volume %dx%d", ErrInvalidRegion, b, width, height)
	}

	first, last := r.SliceRange(depth)
	if first < 0 || last >= depth || first > last {
		return fmt.Errorf("%w: slice range [%d, %d] outside depth %d", ErrInvalidRegion, first, last, depth)
	}

	return nil
}

// String implements fmt.Stringer
func (r Region) String() string {
	b := r.Bounds()
	kind := "polygon"
	if r.rect {
		kind = "rectangle"
	}
	return fmt.Sprintf("%s %v slices [%d, %d]", kind, b, r.FirstSlice, r.LastSlice)
}

package roi

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/paulmach/orb"
	"gopkg.in/yaml.v3"
)

// ErrAcquisitionTimeout is returned when no region became available within the retry budget
var ErrAcquisitionTimeout = errors.New("region of interest not supplied")

// Acquirer supplies the region of interest for a run.
// ok is false while the region is not yet available.
type Acquirer interface {
	Acquire(ctx context.Context) (region Region, ok bool, err error)
}

// AcquirerFunc adapts a function to the Acquirer interface
type AcquirerFunc func(ctx context.Context) (Region, bool, error)

// Acquire implements Acquirer
func (f AcquirerFunc) Acquire(ctx context.Context) (Region, bool, error) {
	return f(ctx)
}

// Static always returns the same region
type Static struct {
	Region Region
}

// Acquire implements Acquirer
func (s Static) Acquire(context.Context) (Region, bool, error) {
	return s.Region, true, nil
}

// AcquireWithRetry blocks until the acquirer yields a region, waiting interval
// between attempts. After attempts unsuccessful tries it returns ErrAcquisitionTimeout.
func AcquireWithRetry(ctx context.Context, a Acquirer, attempts int, interval time.Duration) (Region, error) {
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		region, ok, err := a.Acquire(ctx)
		if err != nil {
			return Region{}, err
		}
		if ok {
			return region, nil
		}

		if attempt == attempts {
			break
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Region{}, ctx.Err()
		case <-timer.C:
		}
	}

	return Region{}, fmt.Errorf("%w after %d attempts", ErrAcquisitionTimeout, attempts)
}

// File waits for a YAML region file to appear at Path
type File struct {
	Path string
}

// Acquire implements Acquirer
func (f File) Acquire(context.Context) (Region, bool, error) {
	data, err := os.ReadFile(f.Path)
	if os.IsNotExist(err) {
		return Region{}, false, nil
	}
	if err != nil {
		return Region{}, false, fmt.Errorf("error reading region file: %w", err)
	}

	region, err := Parse(data)
	if err != nil {
		return Region{}, false, err
	}
	return region, true, nil
}

type rectFormat struct {
	X      int `yaml:"x"`
	Y      int `yaml:"y"`
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// fileFormat is the on-disk representation of a region
type fileFormat struct {
	Points     [][2]float64 `yaml:"points,omitempty"`
	Rect       *rectFormat  `yaml:"rect,omitempty"`
	FirstSlice int          `yaml:"firstSlice"`
	LastSlice  *int         `yaml:"lastSlice,omitempty"`
}

// Parse decodes a region from YAML. Exactly one of rect or points must be given;
// a missing lastSlice extends the region through the last slice.
func Parse(data []byte) (Region, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Region{}, fmt.Errorf("error parsing region file: %w", err)
	}

	last := -1
	if f.LastSlice != nil {
		last = *f.LastSlice
	}

	switch {
	case f.Rect != nil && len(f.Points) > 0:
		return Region{}, fmt.Errorf("%w: both rect and points given", ErrInvalidRegion)
	case f.Rect != nil:
		return NewRectangle(f.Rect.X, f.Rect.Y, f.Rect.Width, f.Rect.Height, f.FirstSlice, last), nil
	case len(f.Points) >= 3:
		points := make([]orb.Point, len(f.Points))
		for i, p := range f.Points {
			points[i] = orb.Point(p)
		}
		return NewPolygon(points, f.FirstSlice, last), nil
	default:
		return Region{}, fmt.Errorf("%w: region file needs a rect or at least 3 points", ErrInvalidRegion)
	}
}

// Marshal encodes a region in the format read by Parse
func Marshal(r Region) ([]byte, error) {
	f := fileFormat{FirstSlice: r.FirstSlice}
	if r.LastSlice >= 0 {
		last := r.LastSlice
		f.LastSlice = &last
	}

	if r.IsRectangle() {
		b := r.Bounds()
		f.Rect = &rectFormat{X: b.Min.X, Y: b.Min.Y, Width: b.Dx(), Height: b.Dy()}
	} else if len(r.Polygon) > 0 {
		ring := r.Polygon[0]
		if ring.Closed() {
			ring = ring[:len(ring)-1]
		}
		for _, p := range ring {
			f.Points = append(f.Points, [2]float64(p))
		}
	}

	return yaml.Marshal(&f)
}

// Save writes a region to path
func Save(path string, r Region) error {
	data, err := Marshal(r)
	if err != nil {
		return fmt.Errorf("error marshaling region: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing region file: %w", err)
	}
	return nil
}

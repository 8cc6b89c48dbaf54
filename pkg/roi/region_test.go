package roi

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/paulmach/orb"
)

func TestRectangleBoundsAndOrigin(t *testing.T) {
	r := NewRectangle(50, 20, 30, 10, 0, -1)

	if got := r.Bounds(); got != image.Rect(50, 20, 80, 30) {
		t.Errorf("Expected bounds (50,20)-(80,30), got %v", got)
	}

	x0, y0, z0 := r.Origin()
	if x0 != 50 || y0 != 20 || z0 != 0 {
		t.Errorf("Expected origin (50,20,0), got (%d,%d,%d)", x0, y0, z0)
	}

	if r.Area() != 300 {
		t.Errorf("Expected area 300, got %f", r.Area())
	}

	if !r.Contains(50, 20) || r.Contains(80, 20) {
		t.Error("Rectangle containment is not half-open")
	}
}

func TestPolygonContains(t *testing.T) {
	// Right triangle with the hypotenuse from (10,0) to (0,10)
	r := NewPolygon([]orb.Point{{0, 0}, {10, 0}, {0, 10}}, 0, 0)

	if !r.Contains(1, 1) {
		t.Error("Expected (1,1) inside the triangle")
	}
	if r.Contains(8, 8) {
		t.Error("Expected (8,8) outside the triangle")
	}
	if r.IsRectangle() {
		t.Error("Polygon reported as rectangle")
	}
	if got := r.Bounds(); got != image.Rect(0, 0, 10, 10) {
		t.Errorf("Unexpected bounds %v", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		region  Region
		wantErr bool
	}{
		{"inside", NewRectangle(0, 0, 10, 10, 0, -1), false},
		{"exact fit", NewRectangle(0, 0, 64, 32, 0, 7), false},
		{"too wide", NewRectangle(60, 0, 10, 10, 0, -1), true},
		{"negative origin", NewRectangle(-1, 0, 10, 10, 0, -1), true},
		{"empty", NewRectangle(5, 5, 0, 10, 0, -1), true},
		{"bad slices", NewRectangle(0, 0, 10, 10, 3, 8), true},
		{"reversed slices", NewRectangle(0, 0, 10, 10, 5, 2), true},
		{"degenerate polygon", NewPolygon([]orb.Point{{0, 0}, {5, 5}}, 0, -1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.region.Validate(64, 32, 8)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidRegion) {
					t.Errorf("Expected ErrInvalidRegion, got %v", err)
				}
			} else if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestParse(t *testing.T) {
	r, err := Parse([]byte("rect: {x: 4, y: 6, width: 10, height: 12}\nfirstSlice: 1\nlastSlice: 3\n"))
	if err != nil {
		t.Fatalf("Failed to parse rect: %v", err)
	}
	if r.Bounds() != image.Rect(4, 6, 14, 18) || r.FirstSlice != 1 || r.LastSlice != 3 {
		t.Errorf("Unexpected region %v", r)
	}

	r, err = Parse([]byte("points: [[0, 0], [10, 0], [10, 10], [0, 10]]\n"))
	if err != nil {
		t.Fatalf("Failed to parse polygon: %v", err)
	}
	if r.LastSlice != -1 {
		t.Errorf("Expected open slice range, got last slice %d", r.LastSlice)
	}
	if r.Area() != 100 {
		t.Errorf("Expected area 100, got %f", r.Area())
	}

	if _, err := Parse([]byte("firstSlice: 0\n")); !errors.Is(err, ErrInvalidRegion) {
		t.Errorf("Expected ErrInvalidRegion for missing geometry, got %v", err)
	}
}

func TestAcquireWithRetryTimesOut(t *testing.T) {
	calls := 0
	never := AcquirerFunc(func(context.Context) (Region, bool, error) {
		calls++
		return Region{}, false, nil
	})

	_, err := AcquireWithRetry(context.Background(), never, 5, time.Millisecond)
	if !errors.Is(err, ErrAcquisitionTimeout) {
		t.Fatalf("Expected ErrAcquisitionTimeout, got %v", err)
	}
	if calls != 5 {
		t.Errorf("Expected 5 attempts, got %d", calls)
	}
}

func TestAcquireWithRetrySucceedsLate(t *testing.T) {
	calls := 0
	late := AcquirerFunc(func(context.Context) (Region, bool, error) {
		calls++
		if calls < 3 {
			return Region{}, false, nil
		}
		return NewRectangle(1, 2, 3, 4, 0, -1), true, nil
	})

	r, err := AcquireWithRetry(context.Background(), late, 5, time.Millisecond)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if r.Bounds() != image.Rect(1, 2, 4, 6) {
		t.Errorf("Unexpected region %v", r)
	}
}

func TestAcquireWithRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	never := AcquirerFunc(func(context.Context) (Region, bool, error) {
		return Region{}, false, nil
	})
	_, err := AcquireWithRetry(ctx, never, 5, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestFileAcquirer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roi.yaml")
	f := File{Path: path}

	if _, ok, err := f.Acquire(context.Background()); ok || err != nil {
		t.Fatalf("Expected not-yet-available, got ok=%v err=%v", ok, err)
	}

	if err := os.WriteFile(path, []byte("rect: {x: 0, y: 0, width: 5, height: 5}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	r, ok, err := f.Acquire(context.Background())
	if err != nil || !ok {
		t.Fatalf("Expected region, got ok=%v err=%v", ok, err)
	}
	if r.Area() != 25 {
		t.Errorf("Expected area 25, got %f", r.Area())
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()

	regions := []Region{
		NewRectangle(50, 20, 30, 40, 0, -1),
		NewPolygon([]orb.Point{{0, 0}, {10, 0}, {5, 8}}, 2, 6),
	}
	for i, want := range regions {
		path := filepath.Join(dir, fmt.Sprintf("roi%d.yaml", i))
		if err := Save(path, want); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		got, ok, err := File{Path: path}.Acquire(context.Background())
		if err != nil || !ok {
			t.Fatalf("Reading back failed: ok=%v err=%v", ok, err)
		}
		if got.IsRectangle() != want.IsRectangle() || got.Bounds() != want.Bounds() {
			t.Errorf("Region %d: expected %v, got %v", i, want, got)
		}
		if got.FirstSlice != want.FirstSlice || got.LastSlice != want.LastSlice {
			t.Errorf("Region %d: slice range %d..%d, expected %d..%d", i,
				got.FirstSlice, got.LastSlice, want.FirstSlice, want.LastSlice)
		}
		if got.Area() != want.Area() {
			t.Errorf("Region %d: area %f, expected %f", i, got.Area(), want.Area())
		}
	}
}

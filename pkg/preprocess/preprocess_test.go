package preprocess

import (
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"

	"particlecount3d/internal/models"
	"particlecount3d/pkg/roi"
)

var unitCal = models.Calibration{VoxelX: 1, VoxelY: 1, VoxelZ: 1, Unit: "um"}

// createTestVolume creates a volume filled by pattern
func createTestVolume(width, height, depth int, pattern func(x, y, z int) float64) *models.Volume {
	v := models.NewVolume(width, height, depth, unitCal)
	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				v.Set(x, y, z, pattern(x, y, z))
			}
		}
	}
	return v
}

func TestCropCopiesBoundingBox(t *testing.T) {
	src := createTestVolume(20, 10, 3, func(x, y, z int) float64 {
		return float64(z*1000 + y*100 + x)
	})

	out, err := Crop(src, roi.NewRectangle(5, 2, 4, 3, 0, -1), false)
	if err != nil {
		t.Fatalf("Crop failed: %v", err)
	}

	if out.Width != 4 || out.Height != 3 || out.Depth != 3 {
		t.Fatalf("Expected 4x3x3, got %dx%dx%d", out.Width, out.Height, out.Depth)
	}

	if out.At(0, 0, 0) != 205 {
		t.Errorf("Expected 205 at origin, got %f", out.At(0, 0, 0))
	}
	if out.At(3, 2, 2) != 2408 {
		t.Errorf("Expected 2408 at far corner, got %f", out.At(3, 2, 2))
	}
	if out.Calibration != src.Calibration {
		t.Error("Calibration not preserved")
	}
}

func TestCropSliceRange(t *testing.T) {
	src := createTestVolume(4, 4, 6, func(x, y, z int) float64 { return float64(z) })

	out, err := Crop(src, roi.NewRectangle(0, 0, 4, 4, 2, 4), false)
	if err != nil {
		t.Fatalf("Crop failed: %v", err)
	}
	if out.Depth != 3 || out.At(0, 0, 0) != 2 || out.At(0, 0, 2) != 4 {
		t.Errorf("Unexpected slice range in crop: depth %d", out.Depth)
	}
}

func TestCropClearsOutsidePolygon(t *testing.T) {
	src := createTestVolume(10, 10, 1, func(x, y, z int) float64 { return 1 })
	triangle := roi.NewPolygon([]orb.Point{{0, 0}, {10, 0}, {0, 10}}, 0, -1)

	out, err := Crop(src, triangle, true)
	if err != nil {
		t.Fatalf("Crop failed: %v", err)
	}
	if out.At(1, 1, 0) != 1 {
		t.Error("Expected voxel inside the polygon to be kept")
	}
	if out.At(9, 9, 0) != 0 {
		t.Error("Expected voxel outside the polygon to be cleared")
	}
}

func TestCropInvalidRegion(t *testing.T) {
	src := createTestVolume(10, 10, 2, func(x, y, z int) float64 { return 0 })

	_, err := Crop(src, roi.NewRectangle(8, 8, 5, 5, 0, -1), false)
	if !errors.Is(err, roi.ErrInvalidRegion) {
		t.Errorf("Expected ErrInvalidRegion, got %v", err)
	}
}

func TestMedianRemovesSaltNoise(t *testing.T) {
	src := createTestVolume(9, 9, 2, func(x, y, z int) float64 { return 10 })
	src.Set(4, 4, 0, 1000)
	src.Set(0, 0, 1, 1000)

	out, err := MedianFilter{Radius: 2, Workers: 2}.Apply(src)
	if err != nil {
		t.Fatalf("Median failed: %v", err)
	}

	if out.At(4, 4, 0) != 10 || out.At(0, 0, 1) != 10 {
		t.Errorf("Salt noise survived: %f %f", out.At(4, 4, 0), out.At(0, 0, 1))
	}
	if src.At(4, 4, 0) != 1000 {
		t.Error("Median modified its input")
	}
}

func TestCircularKernelSize(t *testing.T) {
	// ImageJ radius 2 kernel: 21 pixels (5x5 without the corners)
	if n := len(circularKernel(2)); n != 21 {
		t.Errorf("Expected 21 kernel pixels, got %d", n)
	}
	// radius 1 kernel: full 3x3
	if n := len(circularKernel(1)); n != 9 {
		t.Errorf("Expected 9 kernel pixels, got %d", n)
	}
}

func TestTopHatRemovesFlatBackground(t *testing.T) {
	src := createTestVolume(15, 15, 5, func(x, y, z int) float64 { return 100 })
	src.Set(7, 7, 2, 600)

	out, err := TopHatFilter{RadiusX: 2, RadiusY: 2, RadiusZ: 1}.Apply(src)
	if err != nil {
		t.Fatalf("Top-hat failed: %v", err)
	}

	if math.Abs(out.At(0, 0, 0)) > 1e-9 {
		t.Errorf("Expected flat background to vanish, got %f", out.At(0, 0, 0))
	}
	if math.Abs(out.At(7, 7, 2)-500) > 1e-9 {
		t.Errorf("Expected bright spot to keep contrast 500, got %f", out.At(7, 7, 2))
	}
}

func TestErodeDilate(t *testing.T) {
	src := createTestVolume(5, 5, 1, func(x, y, z int) float64 { return 0 })
	src.Set(2, 2, 0, 9)

	dilated := Dilate(src, 1, 1, 0, 1)
	if dilated.At(1, 2, 0) != 9 || dilated.At(0, 0, 0) != 0 {
		t.Error("Unexpected dilation result")
	}

	eroded := Erode(dilated, 1, 1, 0, 1)
	if eroded.At(2, 2, 0) != 9 || eroded.At(1, 2, 0) != 0 {
		t.Error("Unexpected erosion result")
	}
}

func TestPreprocessorRun(t *testing.T) {
	src := createTestVolume(12, 12, 2, func(x, y, z int) float64 { return 50 })
	src.Set(6, 6, 0, 5000)

	p := &Preprocessor{
		Denoise:    MedianFilter{Radius: 1},
		Background: Chain{TopHatFilter{RadiusX: 1, RadiusY: 1}},
	}
	denoised, out, err := p.Run(src, roi.NewRectangle(2, 2, 8, 8, 0, -1))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if denoised.At(4, 4, 0) != 50 {
		t.Errorf("Expected denoised background 50, got %f", denoised.At(4, 4, 0))
	}

	if out.Width != 8 || out.Height != 8 {
		t.Errorf("Expected 8x8 crop, got %dx%d", out.Width, out.Height)
	}
	if out.At(4, 4, 0) != 0 {
		t.Errorf("Expected isolated spike to be removed, got %f", out.At(4, 4, 0))
	}
}

func TestChainFailurePropagates(t *testing.T) {
	boom := errors.New("boom")
	c := Chain{FilterFunc(func(*models.Volume) (*models.Volume, error) { return nil, boom })}
	_, err := c.Apply(createTestVolume(2, 2, 1, func(x, y, z int) float64 { return 0 }))
	if !errors.Is(err, boom) {
		t.Errorf("Expected boom, got %v", err)
	}
}

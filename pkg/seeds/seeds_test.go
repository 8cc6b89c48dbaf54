package seeds

import (
	"errors"
	"math"
	"testing"

	"particlecount3d/internal/models"
)

var unitCal = models.Calibration{VoxelX: 1, VoxelY: 1, VoxelZ: 1, Unit: "um"}

// createBlobVolume creates a volume with Gaussian blobs of the given sigma at the given centres
func createBlobVolume(width, height, depth int, sigma float64, centres [][3]float64) *models.Volume {
	v := models.NewVolume(width, height, depth, unitCal)
	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				value := 0.0
				for _, c := range centres {
					dx, dy, dz := float64(x)-c[0], float64(y)-c[1], float64(z)-c[2]
					value += 1000 * math.Exp(-(dx*dx+dy*dy+dz*dz)/(2*sigma*sigma))
				}
				v.Set(x, y, z, value)
			}
		}
	}
	return v
}

func TestLoGDetectsSingleBlob(t *testing.T) {
	v := createBlobVolume(21, 21, 11, 2, [][3]float64{{10, 10, 5}})

	peaks, err := LoGDetector{Workers: 2}.Detect(v, Params{Radius: 3, Threshold: 1, SubVoxel: true})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(peaks) != 1 {
		t.Fatalf("Expected 1 peak, got %d: %+v", len(peaks), peaks)
	}

	p := peaks[0]
	if math.Abs(p.X-10) > 0.5 || math.Abs(p.Y-10) > 0.5 || math.Abs(p.Z-5) > 0.5 {
		t.Errorf("Peak too far from the blob centre: %+v", p)
	}
	if p.Quality <= 1 {
		t.Errorf("Expected quality above threshold, got %f", p.Quality)
	}
}

func TestLoGReportsPeaksInScanOrder(t *testing.T) {
	v := createBlobVolume(40, 20, 9, 1.5, [][3]float64{{30, 10, 4}, {8, 10, 4}})

	peaks, err := LoGDetector{}.Detect(v, Params{Radius: 2.5, Threshold: 1, MedianFilter: true})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(peaks) != 2 {
		t.Fatalf("Expected 2 peaks, got %d", len(peaks))
	}
	if peaks[0].X != 8 || peaks[1].X != 30 {
		t.Errorf("Expected peaks at x=8 then x=30, got %f and %f", peaks[0].X, peaks[1].X)
	}
}

func TestLoGFlatVolumeHasNoPeaks(t *testing.T) {
	v := models.NewVolume(10, 10, 5, unitCal)
	for i := range v.Data {
		v.Data[i] = 250
	}

	peaks, err := LoGDetector{}.Detect(v, Params{Radius: 2, Threshold: 1})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(peaks) != 0 {
		t.Errorf("Expected no peaks on a flat volume, got %d", len(peaks))
	}
}

func TestLoGDegenerateInput(t *testing.T) {
	tests := []struct {
		name   string
		volume *models.Volume
		params Params
	}{
		{"nil volume", nil, Params{Radius: 2}},
		{"empty volume", models.NewVolume(0, 0, 0, unitCal), Params{Radius: 2}},
		{"zero radius", models.NewVolume(4, 4, 4, unitCal), Params{Radius: 0}},
		{"bad calibration", models.NewVolume(4, 4, 4, models.Calibration{VoxelX: 1, VoxelY: 1}), Params{Radius: 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoGDetector{}.Detect(tt.volume, tt.params)
			if !errors.Is(err, ErrDetection) {
				t.Errorf("Expected ErrDetection, got %v", err)
			}
		})
	}
}

func TestGaussianKernels(t *testing.T) {
	g, g2 := gaussianKernels(1.5)

	sum, sum2 := 0.0, 0.0
	for i := range g {
		sum += g[i]
		sum2 += g2[i]
	}
	if math.Abs(sum-1) > 1e-12 {
		t.Errorf("Gaussian kernel should sum to 1, got %f", sum)
	}
	if math.Abs(sum2) > 1e-12 {
		t.Errorf("Second derivative kernel should sum to 0, got %f", sum2)
	}
	if g2[len(g2)/2] >= 0 {
		t.Error("Second derivative should be negative at the centre")
	}
}

func TestRasterizeKeepsEveryMarker(t *testing.T) {
	v := models.NewVolume(20, 20, 5, unitCal)
	peaks := []Peak{
		{X: 5, Y: 5, Z: 2},
		{X: 6, Y: 5, Z: 2},
		{X: 15, Y: 15, Z: 2.4},
	}

	markers := Rasterize(peaks, v, 2)

	if markers.Width != 20 || markers.Depth != 5 {
		t.Fatal("Marker volume shape differs from input")
	}
	if markers.At(5, 5, 2) != 1 || markers.At(6, 5, 2) != 2 || markers.At(15, 15, 2) != 3 {
		t.Errorf("Centre voxels do not carry their own labels")
	}
	// Voxel shared by the first two ellipsoids keeps the earlier label
	if markers.At(6, 6, 2) != 1 {
		t.Errorf("Expected overlap to keep label 1, got %d", markers.At(6, 6, 2))
	}
	if markers.At(0, 0, 0) != 0 {
		t.Error("Expected background away from the markers")
	}

	distinct := markers.Distinct()
	if len(distinct) != 3 {
		t.Errorf("Expected 3 distinct markers, got %v", distinct)
	}
}

func TestRasterizeCoincidentCentresKeepFirstLabel(t *testing.T) {
	v := models.NewVolume(20, 20, 5, unitCal)
	peaks := []Peak{
		{X: 5, Y: 5, Z: 2},
		{X: 5.2, Y: 4.9, Z: 2.1},
		{X: 14, Y: 14, Z: 2},
	}

	markers := Rasterize(peaks, v, 2)

	if markers.At(5, 5, 2) != 1 {
		t.Errorf("Expected the shared centre to keep label 1, got %d", markers.At(5, 5, 2))
	}
	if markers.At(14, 14, 2) != 3 {
		t.Errorf("Expected the third centre to keep label 3, got %d", markers.At(14, 14, 2))
	}
}

func TestGenerateWithNoPeaks(t *testing.T) {
	v := models.NewVolume(8, 8, 3, unitCal)

	markers, peaks, err := Generate(LoGDetector{}, v, Params{Radius: 2, Threshold: 10})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(peaks) != 0 || markers.MaxLabel() != 0 {
		t.Errorf("Expected an empty marker volume, got %d peaks", len(peaks))
	}
}

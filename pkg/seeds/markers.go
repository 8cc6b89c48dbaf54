package seeds

import (
	"fmt"
	"math"

	"particlecount3d/internal/models"
)

// Rasterize draws each peak as a filled ellipsoid of the given physical radius
// into a marker volume shaped like v. Peak i carries label i+1. Overlapping
// voxels keep the earlier marker's label, but a peak's centre voxel carries its
// own label unless it is also the centre of an earlier peak. Peaks that round
// to the same voxel are not merged; the later one keeps only the ellipsoid
// voxels nobody else claimed.
func Rasterize(peaks []Peak, v *models.Volume, radius float64) *models.LabelVolume {
	markers := models.NewLabelVolumeLike(v)
	cal := v.Calibration

	rx := radius / cal.VoxelX
	ry := radius / cal.VoxelY
	rz := radius / cal.VoxelZ

	centres := make(map[int]bool, len(peaks))
	for i, p := range peaks {
		label := int32(i + 1)
		cz := math.Round(p.Z)

		x0, x1 := int(math.Floor(p.X-rx)), int(math.Ceil(p.X+rx))
		y0, y1 := int(math.Floor(p.Y-ry)), int(math.Ceil(p.Y+ry))
		z0, z1 := int(math.Floor(cz-rz)), int(math.Ceil(cz+rz))

		for z := z0; z <= z1; z++ {
			for y := y0; y <= y1; y++ {
				for x := x0; x <= x1; x++ {
					if !markers.InBounds(x, y, z) {
						continue
					}
					dx := (float64(x) - p.X) / rx
					dy := (float64(y) - p.Y) / ry
					dz := (float64(z) - cz) / rz
					if dx*dx+dy*dy+dz*dz > 1 {
						continue
					}
					idx := markers.Index(x, y, z)
					if markers.Labels[idx] == 0 {
						markers.Labels[idx] = label
					}
				}
			}
		}

		cx := clamp(int(math.Round(p.X)), 0, v.Width-1)
		cy := clamp(int(math.Round(p.Y)), 0, v.Height-1)
		centre := markers.Index(cx, cy, clamp(int(cz), 0, v.Depth-1))
		if !centres[centre] {
			markers.Labels[centre] = label
			centres[centre] = true
		}
	}

	return markers
}

// Generate runs the detector and rasterizes its peaks
func Generate(d SeedDetector, v *models.Volume, p Params) (*models.LabelVolume, []Peak, error) {
	if v.Empty() {
		return nil, nil, fmt.Errorf("%w: empty volume", ErrDetection)
	}
	peaks, err := d.Detect(v, p)
	if err != nil {
		return nil, nil, err
	}
	return Rasterize(peaks, v, p.Radius), peaks, nil
}

// Package visualization renders volumes and label volumes as PNG slices for
// inspecting intermediate pipeline stages.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/floats"

	"particlecount3d/internal/models"
)

// Viewer extracts 2D slices from a volume, contrast-stretched to 16 bits
type Viewer struct {
	volume *models.Volume

	// lo and hi are the intensities mapped to black and white
	lo, hi float64
}

// NewViewer creates a viewer scaled to the volume's intensity range
func NewViewer(v *models.Volume) *Viewer {
	viewer := &Viewer{volume: v}
	if !v.Empty() {
		viewer.lo = floats.Min(v.Data)
		viewer.hi = floats.Max(v.Data)
	}
	return viewer
}

func (v *Viewer) gray(idx int) color.Gray16 {
	if v.hi <= v.lo {
		return color.Gray16{}
	}
	scaled := (v.volume.Data[idx] - v.lo) / (v.hi - v.lo) * 65535
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, scaled)))}
}

// ExtractSlice extracts a 2D slice from the volume along the specified axis
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	vol := v.volume
	img, err := plane(vol.Width, vol.Height, vol.Depth, axis, position, func(img *image.RGBA64, px, py, idx int) {
		img.Set(px, py, v.gray(idx))
	})
	if err != nil {
		return nil, err
	}
	return img, nil
}

// SaveSliceSequence writes every slice along the axis as a PNG into outputDir
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	return saveSequence(axis, outputDir, v.volume.Width, v.volume.Height, v.volume.Depth, v.ExtractSlice)
}

// LabelViewer renders a label volume with one colour per label
type LabelViewer struct {
	labels *models.LabelVolume
}

// NewLabelViewer creates a label viewer
func NewLabelViewer(l *models.LabelVolume) *LabelViewer {
	return &LabelViewer{labels: l}
}

// ExtractSlice extracts a 2D slice of the labels along the specified axis.
// Background is black.
func (v *LabelViewer) ExtractSlice(axis string, position int) (image.Image, error) {
	l := v.labels
	img, err := plane(l.Width, l.Height, l.Depth, axis, position, func(img *image.RGBA64, px, py, idx int) {
		img.Set(px, py, LabelColor(l.Labels[idx]))
	})
	if err != nil {
		return nil, err
	}
	return img, nil
}

// SaveSliceSequence writes every slice along the axis as a PNG into outputDir
func (v *LabelViewer) SaveSliceSequence(axis string, outputDir string) error {
	return saveSequence(axis, outputDir, v.labels.Width, v.labels.Height, v.labels.Depth, v.ExtractSlice)
}

// LabelColor returns a stable, well spread colour for a label; 0 is black
func LabelColor(label int32) color.RGBA {
	if label <= 0 {
		return color.RGBA{A: 255}
	}
	// Golden-angle hue steps keep neighbouring labels distinct
	h := math.Mod(float64(label)*137.508, 360) / 60
	x := 1 - math.Abs(math.Mod(h, 2)-1)
	var r, g, b float64
	switch int(h) {
	case 0:
		r, g = 1, x
	case 1:
		r, g = x, 1
	case 2:
		g, b = 1, x
	case 3:
		g, b = x, 1
	case 4:
		r, b = x, 1
	default:
		r, b = 1, x
	}
	return color.RGBA{R: uint8(55 + 200*r), G: uint8(55 + 200*g), B: uint8(55 + 200*b), A: 255}
}

// plane walks one slice of a width x height x depth grid, calling set with the
// image position and the voxel index
func plane(width, height, depth int, axis string, position int, set func(img *image.RGBA64, px, py, idx int)) (*image.RGBA64, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	var img *image.RGBA64

	switch axis {
	case "x", "X":
		// YZ plane
		if position >= width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, width)
		}
		img = image.NewRGBA64(image.Rect(0, 0, depth, height))
		for y := 0; y < height; y++ {
			for z := 0; z < depth; z++ {
				set(img, z, y, z*width*height+y*width+position)
			}
		}

	case "y", "Y":
		// XZ plane
		if position >= height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, height)
		}
		img = image.NewRGBA64(image.Rect(0, 0, width, depth))
		for z := 0; z < depth; z++ {
			for x := 0; x < width; x++ {
				set(img, x, z, z*width*height+position*width+x)
			}
		}

	case "z", "Z":
		// XY plane
		if position >= depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, depth)
		}
		img = image.NewRGBA64(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				set(img, x, y, position*width*height+y*width+x)
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// SaveSlice saves an extracted slice as a PNG image
func SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}

	if err := png.Encode(file, img); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func saveSequence(axis, outputDir string, width, height, depth int, extract func(string, int) (image.Image, error)) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = width
	case "y", "Y":
		maxPos = height
	case "z", "Z":
		maxPos = depth
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := extract(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", axis, pos))
		if err := SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}

// SaveStage writes the z slices of a stage result into dir/stage. result must
// be a *models.Volume or a *models.LabelVolume.
func SaveStage(dir, stage string, result interface{}) error {
	out := filepath.Join(dir, stage)
	switch r := result.(type) {
	case *models.Volume:
		return NewViewer(r).SaveSliceSequence("z", out)
	case *models.LabelVolume:
		return NewLabelViewer(r).SaveSliceSequence("z", out)
	default:
		return fmt.Errorf("cannot render %T", result)
	}
}

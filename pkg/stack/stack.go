// Package stack loads a directory of single-plane images as one volume.
package stack

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "golang.org/x/image/tiff"

	"particlecount3d/internal/models"
	"particlecount3d/internal/parallel"
)

// ErrNoImages is returned when a directory holds no readable slice images
var ErrNoImages = errors.New("no input images")

var extensions = map[string]bool{
	".tif":  true,
	".tiff": true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

// LoadSlices reads every image in dir, ordered by the number in its file name,
// as consecutive slices of a volume. Sample values are kept as stored (8 or 16
// bit), not normalised. Slices are decoded on up to workers goroutines.
func LoadSlices(dir string, cal models.Calibration, workers int) (*models.Volume, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read input directory: %w", err)
	}

	var imageFiles []string
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		if extensions[strings.ToLower(filepath.Ext(file.Name()))] {
			imageFiles = append(imageFiles, file.Name())
		}
	}

	if len(imageFiles) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoImages, dir)
	}

	sort.SliceStable(imageFiles, func(i, j int) bool {
		numI := extractNumber(imageFiles[i])
		numJ := extractNumber(imageFiles[j])
		if numI != numJ {
			return numI < numJ
		}
		return imageFiles[i] < imageFiles[j]
	})

	// The first slice fixes the volume size
	first, err := loadImage(filepath.Join(dir, imageFiles[0]))
	if err != nil {
		return nil, fmt.Errorf("failed to load image %s: %w", imageFiles[0], err)
	}
	bounds := first.Bounds()
	vol := models.NewVolume(bounds.Dx(), bounds.Dy(), len(imageFiles), cal)
	copy(vol.Plane(0), imageToFloat(first))

	err = parallel.ForErr(len(imageFiles)-1, workers, func(i int) error {
		z := i + 1
		filename := imageFiles[z]
		img, err := loadImage(filepath.Join(dir, filename))
		if err != nil {
			return fmt.Errorf("failed to load image %s: %w", filename, err)
		}

		b := img.Bounds()
		if b.Dx() != vol.Width || b.Dy() != vol.Height {
			return fmt.Errorf("image %s is %dx%d, expected %dx%d", filename,
				b.Dx(), b.Dy(), vol.Width, vol.Height)
		}

		copy(vol.Plane(z), imageToFloat(img))
		return nil
	})
	if err != nil {
		return nil, err
	}

	return vol, nil
}

// extractNumber extracts the numeric part from a filename
func extractNumber(filename string) int {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	numStr := ""
	for _, c := range base {
		if c >= '0' && c <= '9' {
			numStr += string(c)
		}
	}

	if numStr != "" {
		num, err := strconv.Atoi(numStr)
		if err == nil {
			return num
		}
	}
	return 0
}

func loadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, err
	}

	return img, nil
}

// imageToFloat converts one image to its raw grey values in row-major order
func imageToFloat(img image.Image) []float64 {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	result := make([]float64, width*height)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			result[y*width+x] = sample(img, bounds.Min.X+x, bounds.Min.Y+y)
		}
	}

	return result
}

func sample(img image.Image, x, y int) float64 {
	switch m := img.(type) {
	case *image.Gray16:
		return float64(m.Gray16At(x, y).Y)
	case *image.Gray:
		return float64(m.GrayAt(x, y).Y)
	default:
		// Colour images are reduced to 8-bit luminance
		g := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
		return float64(g.Y)
	}
}

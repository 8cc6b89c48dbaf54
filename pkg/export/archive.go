package export

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"particlecount3d/pkg/objects"
)

// Archive stores the voxels of every object of a population
type Archive interface {
	// Extension is the file suffix appended to the output base name
	Extension() string
	Write(path string, pop *objects.Population) error
}

// NewArchive returns the archive for a configured format name
func NewArchive(format string) (Archive, error) {
	switch format {
	case "zip", "":
		return ZipArchive{}, nil
	case "sqlite":
		return SQLiteArchive{}, nil
	}
	return nil, fmt.Errorf("unknown archive format %q", format)
}

// ArchivePath returns the archive file for an output base
func ArchivePath(base string, a Archive) string {
	return base + "_3DROIs" + a.Extension()
}

// objectRecord is the serialized form of one object
type objectRecord struct {
	ID            int        `json:"id"`
	Name          string     `json:"name"`
	VolumeUnit    float64    `json:"volume"`
	MeanIntensity float64    `json:"meanIntensity"`
	Feret         float64    `json:"feret"`
	Centroid      [3]float64 `json:"centroid"`

	// NearestNeighbor is the calibrated distance to the closest other
	// centroid, absent for a lone object
	NearestNeighbor *float64 `json:"nearestNeighbor,omitempty"`

	Voxels [][3]int `json:"voxels"`
}

func newObjectRecord(o objects.Object, nearest float64) objectRecord {
	rec := objectRecord{
		ID:            o.ID,
		Name:          o.Name,
		VolumeUnit:    o.VolumeUnit,
		MeanIntensity: o.MeanIntensity,
		Feret:         o.Feret,
		Centroid:      [3]float64{o.Centroid.X, o.Centroid.Y, o.Centroid.Z},
		Voxels:        make([][3]int, len(o.Voxels)),
	}
	for i, v := range o.Voxels {
		rec.Voxels[i] = [3]int{v.X, v.Y, v.Z}
	}
	if !math.IsInf(nearest, 0) {
		rec.NearestNeighbor = &nearest
	}
	return rec
}

// ZipArchive writes one JSON entry per object into a zip file
type ZipArchive struct{}

// Extension implements Archive
func (ZipArchive) Extension() string { return ".zip" }

// Write implements Archive
func (ZipArchive) Write(path string, pop *objects.Population) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}

	nearest := pop.NearestNeighborDistances()
	zw := zip.NewWriter(f)
	for i, o := range pop.Objects {
		entry, err := zw.Create(o.Name + ".json")
		if err != nil {
			f.Close()
			return fmt.Errorf("failed to add %s: %w", o.Name, err)
		}
		if err := json.NewEncoder(entry).Encode(newObjectRecord(o, nearest[i])); err != nil {
			f.Close()
			return fmt.Errorf("failed to encode %s: %w", o.Name, err)
		}
	}

	if err := zw.Close(); err != nil {
		f.Close()
		return fmt.Errorf("failed to finish archive: %w", err)
	}
	return f.Close()
}

package export

import (
	"archive/zip"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"particlecount3d/internal/models"
	"particlecount3d/pkg/measure"
	"particlecount3d/pkg/objects"
)

func createPopulation() *objects.Population {
	return &objects.Population{
		Width: 10, Height: 10, Depth: 4,
		Calibration: models.Calibration{VoxelX: 1, VoxelY: 1, VoxelZ: 1, Unit: "um"},
		Objects: []objects.Object{
			{
				ID: 1, Name: "Obj1", VoxelCount: 2, VolumeUnit: 2, MeanIntensity: 500, Feret: 1,
				Centroid: r3.Vector{X: 55.5, Y: 25, Z: 3},
				Voxels:   []objects.Voxel{{X: 55, Y: 25, Z: 3}, {X: 56, Y: 25, Z: 3}},
			},
			{
				ID: 4, Name: "Obj4", VoxelCount: 1, VolumeUnit: 1, MeanIntensity: 420,
				Centroid: r3.Vector{X: 60, Y: 30, Z: 1},
				Voxels:   []objects.Voxel{{X: 60, Y: 30, Z: 1}},
			},
		},
	}
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
}

func TestUniqueBaseName(t *testing.T) {
	dir := t.TempDir()

	base, err := UniqueBaseName(dir, "stack.tif")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "stack"), base)

	touch(t, filepath.Join(dir, "stack.csv"))
	base, err = UniqueBaseName(dir, "stack.tif")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "stack_1"), base)

	touch(t, filepath.Join(dir, "stack_1_3DROIs.zip"))
	base, err = UniqueBaseName(dir, "stack")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "stack_2"), base)
}

func TestUniqueBaseNameWithGlobCharacters(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "s.csv"))

	base, err := UniqueBaseName(dir, "[s]")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "[s]"), base)
}

func TestWriteCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.csv")
	table := measure.Aggregate(createPopulation())

	require.NoError(t, WriteCSV(path, table))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"Object ID", "Volume (um cube)", "mean Intensity", "feret diameter (um)"}, records[0])
	assert.Equal(t, []string{"1", "2.000", "500.000", "1.000"}, records[1])
	assert.Equal(t, "4", records[2][0])
}

func TestWriteCSVHeaderOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.csv")
	table := measure.Aggregate(&objects.Population{Calibration: models.Calibration{Unit: "um"}})

	require.NoError(t, WriteCSV(path, table))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Object ID,Volume (um cube),mean Intensity,feret diameter (um)\n", string(data))
}

func TestZipArchive(t *testing.T) {
	a, err := NewArchive("zip")
	require.NoError(t, err)

	path := ArchivePath(filepath.Join(t.TempDir(), "stack"), a)
	assert.Equal(t, "stack_3DROIs.zip", filepath.Base(path))
	require.NoError(t, a.Write(path, createPopulation()))

	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()

	require.Len(t, zr.File, 2)
	assert.Equal(t, "Obj1.json", zr.File[0].Name)

	rc, err := zr.File[0].Open()
	require.NoError(t, err)
	defer rc.Close()

	var rec objectRecord
	require.NoError(t, json.NewDecoder(rc).Decode(&rec))
	assert.Equal(t, 1, rec.ID)
	assert.Equal(t, [][3]int{{55, 25, 3}, {56, 25, 3}}, rec.Voxels)
	assert.Equal(t, [3]float64{55.5, 25, 3}, rec.Centroid)
	require.NotNil(t, rec.NearestNeighbor)
	assert.InDelta(t, math.Sqrt(49.25), *rec.NearestNeighbor, 1e-9)
}

func TestZipArchiveLoneObjectHasNoNeighbor(t *testing.T) {
	pop := createPopulation()
	pop = pop.WithObjects(pop.Objects[:1])

	path := filepath.Join(t.TempDir(), "lone.zip")
	require.NoError(t, ZipArchive{}.Write(path, pop))

	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()

	rc, err := zr.File[0].Open()
	require.NoError(t, err)
	defer rc.Close()

	var rec objectRecord
	require.NoError(t, json.NewDecoder(rc).Decode(&rec))
	assert.Nil(t, rec.NearestNeighbor)
}

func TestSQLiteArchive(t *testing.T) {
	a, err := NewArchive("sqlite")
	require.NoError(t, err)

	path := ArchivePath(filepath.Join(t.TempDir(), "stack"), a)
	require.NoError(t, a.Write(path, createPopulation()))

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM objects`).Scan(&count))
	assert.Equal(t, 2, count)

	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM voxels WHERE object_id = ?`, 1).Scan(&count))
	assert.Equal(t, 2, count)

	var name string
	var volume float64
	require.NoError(t, db.QueryRow(`SELECT name, volume FROM objects WHERE id = ?`, 4).Scan(&name, &volume))
	assert.Equal(t, "Obj4", name)
	assert.Equal(t, 1.0, volume)

	var nearest float64
	require.NoError(t, db.QueryRow(`SELECT nearest_neighbor FROM objects WHERE id = ?`, 1).Scan(&nearest))
	assert.InDelta(t, math.Sqrt(49.25), nearest, 1e-9)
}

func TestWriteAll(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "stack.csv")
	zipPath := filepath.Join(dir, "stack_3DROIs.zip")
	table := measure.Aggregate(createPopulation())

	require.NoError(t, WriteAll(
		Output{Path: csvPath, Write: func(p string) error { return WriteCSV(p, table) }},
		Output{Path: zipPath, Write: func(p string) error { return ZipArchive{}.Write(p, createPopulation()) }},
	))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.FileExists(t, csvPath)
	assert.FileExists(t, zipPath)
}

func TestWriteAllLeavesNothingOnFailure(t *testing.T) {
	dir := t.TempDir()
	boom := errors.New("disk full")
	table := measure.Aggregate(createPopulation())

	err := WriteAll(
		Output{Path: filepath.Join(dir, "stack.csv"), Write: func(p string) error { return WriteCSV(p, table) }},
		Output{Path: filepath.Join(dir, "stack.roi.yaml"), Write: func(string) error { return boom }},
	)
	assert.True(t, errors.Is(err, boom))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestNewArchiveUnknownFormat(t *testing.T) {
	_, err := NewArchive("tar")
	assert.Error(t, err)
}

package export

import (
	"database/sql"
	"fmt"
	"math"

	_ "github.com/mattn/go-sqlite3"

	"particlecount3d/pkg/objects"
)

const schema = `
CREATE TABLE IF NOT EXISTS objects (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	voxel_count INTEGER NOT NULL,
	volume REAL NOT NULL,
	mean_intensity REAL DEFAULT 0,
	feret REAL DEFAULT 0,
	centroid_x REAL DEFAULT 0,
	centroid_y REAL DEFAULT 0,
	centroid_z REAL DEFAULT 0,
	nearest_neighbor REAL
);

CREATE TABLE IF NOT EXISTS voxels (
	object_id INTEGER NOT NULL,
	x INTEGER NOT NULL,
	y INTEGER NOT NULL,
	z INTEGER NOT NULL,
	FOREIGN KEY (object_id) REFERENCES objects(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_voxels_object_id ON voxels(object_id);
`

// SQLiteArchive writes the objects and their voxels into a SQLite database
type SQLiteArchive struct{}

// Extension implements Archive
func (SQLiteArchive) Extension() string { return ".db" }

// Write implements Archive
func (SQLiteArchive) Write(path string, pop *objects.Population) error {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	objStmt, err := tx.Prepare(`
		INSERT INTO objects (id, name, voxel_count, volume, mean_intensity, feret, centroid_x, centroid_y, centroid_z, nearest_neighbor)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer objStmt.Close()

	voxStmt, err := tx.Prepare(`INSERT INTO voxels (object_id, x, y, z) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer voxStmt.Close()

	nearest := pop.NearestNeighborDistances()
	for i, o := range pop.Objects {
		var nn sql.NullFloat64
		if !math.IsInf(nearest[i], 0) {
			nn = sql.NullFloat64{Float64: nearest[i], Valid: true}
		}
		if _, err := objStmt.Exec(o.ID, o.Name, o.VoxelCount, o.VolumeUnit, o.MeanIntensity, o.Feret,
			o.Centroid.X, o.Centroid.Y, o.Centroid.Z, nn); err != nil {
			return fmt.Errorf("failed to insert %s: %w", o.Name, err)
		}
		for _, v := range o.Voxels {
			if _, err := voxStmt.Exec(o.ID, v.X, v.Y, v.Z); err != nil {
				return fmt.Errorf("failed to insert voxel of %s: %w", o.Name, err)
			}
		}
	}

	return tx.Commit()
}

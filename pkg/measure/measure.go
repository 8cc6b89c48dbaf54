// Package measure turns an object population into the results table.
package measure

import (
	"fmt"
	"sort"

	"particlecount3d/pkg/objects"
)

// Row holds the measurements of one object
type Row struct {
	ObjectID      int
	Name          string
	VolumeUnit    float64
	MeanIntensity float64
	Feret         float64
}

// Table is the ordered measurement table of a population
type Table struct {
	Unit string
	Rows []Row
}

// Aggregate builds one row per object, sorted by ascending object ID
func Aggregate(pop *objects.Population) Table {
	table := Table{Unit: pop.Calibration.Unit, Rows: make([]Row, 0, pop.Len())}
	for _, o := range pop.Objects {
		table.Rows = append(table.Rows, Row{
			ObjectID:      o.ID,
			Name:          o.Name,
			VolumeUnit:    o.VolumeUnit,
			MeanIntensity: o.MeanIntensity,
			Feret:         o.Feret,
		})
	}
	sort.SliceStable(table.Rows, func(i, j int) bool {
		return table.Rows[i].ObjectID < table.Rows[j].ObjectID
	})
	return table
}

// Header returns the column titles
func (t Table) Header() []string {
	return []string{
		"Object ID",
		fmt.Sprintf("Volume (%s cube)", t.Unit),
		"mean Intensity",
		fmt.Sprintf("feret diameter (%s)", t.Unit),
	}
}

// Records returns the header followed by one formatted record per row
func (t Table) Records() [][]string {
	records := make([][]string, 0, len(t.Rows)+1)
	records = append(records, t.Header())
	for _, r := range t.Rows {
		records = append(records, []string{
			fmt.Sprintf("%d", r.ObjectID),
			formatFloat(r.VolumeUnit),
			formatFloat(r.MeanIntensity),
			formatFloat(r.Feret),
		})
	}
	return records
}

// Len returns the number of rows
func (t Table) Len() int { return len(t.Rows) }

func formatFloat(f float64) string {
	return fmt.Sprintf("%.3f", f)
}

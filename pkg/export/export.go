// Package export writes the measurement table and the object archive of a run.
package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"particlecount3d/pkg/measure"
)

// UniqueBaseName returns a path base inside dir that no existing file starts
// with: name itself, else name_1, name_2 and so on. Any file "<base>.<ext>" or
// "<base>_3DROIs.<ext>" counts as taken.
func UniqueBaseName(dir, name string) (string, error) {
	name = strings.TrimSuffix(name, filepath.Ext(name))
	candidate := name
	for i := 1; ; i++ {
		taken, err := baseTaken(dir, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return filepath.Join(dir, candidate), nil
		}
		candidate = fmt.Sprintf("%s_%d", name, i)
	}
}

func baseTaken(dir, base string) (bool, error) {
	pattern := filepath.Join(dir, escapeGlob(base))
	for _, p := range []string{pattern + ".*", pattern + "_3DROIs.*"} {
		matches, err := filepath.Glob(p)
		if err != nil {
			return false, fmt.Errorf("failed to check output names: %w", err)
		}
		if len(matches) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// escapeGlob quotes the glob metacharacters of a literal file name
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// WriteCSV writes the table, header first, to path
func WriteCSV(path string, table measure.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create results file: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.WriteAll(table.Records()); err != nil {
		f.Close()
		return fmt.Errorf("failed to write results: %w", err)
	}

	return f.Close()
}

package export

import (
	"fmt"
	"os"
	"path/filepath"
)

// Output is one file of a result set, produced by Write at the given path
type Output struct {
	Path  string
	Write func(path string) error
}

// partialPath is the hidden name an output is written under before it is
// moved into place. It never matches a "<base>.*" pattern.
func partialPath(path string) string {
	return filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".partial")
}

// WriteAll writes every output under a temporary name and renames them into
// place once all writes succeeded. On error nothing is left behind.
func WriteAll(outputs ...Output) error {
	written := make([]string, 0, len(outputs))
	cleanup := func() {
		for _, p := range written {
			os.Remove(p)
		}
	}

	for _, o := range outputs {
		tmp := partialPath(o.Path)
		written = append(written, tmp)
		if err := o.Write(tmp); err != nil {
			cleanup()
			return err
		}
	}

	for i, o := range outputs {
		if err := os.Rename(written[i], o.Path); err != nil {
			cleanup()
			return fmt.Errorf("failed to move %s into place: %w", filepath.Base(o.Path), err)
		}
		written[i] = o.Path
	}
	return nil
}

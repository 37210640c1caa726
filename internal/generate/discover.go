package generate

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Candidate is a file a backend left in the scratch directory.
type Candidate struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// discover reduces the scratch contents to one candidate. Only regular files
// count. The conventional path wins when it is one. Otherwise every file
// under scratchDir with extension ext is considered and the most recently
// modified one is chosen, ties going to the lexically smallest path. The second return value
// lists every candidate that was considered.
func discover(conventional, scratchDir, ext string) (Candidate, []Candidate, error) {
	if conventional != "" {
		// Lstat: a symlink left by the backend is never a candidate.
		if info, err := os.Lstat(conventional); err == nil && info.Mode().IsRegular() {
			c := Candidate{Path: conventional, Size: info.Size(), ModTime: info.ModTime()}
			return c, []Candidate{c}, nil
		}
	}

	var found []Candidate
	err := filepath.WalkDir(scratchDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || !strings.EqualFold(filepath.Ext(path), ext) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		found = append(found, Candidate{Path: path, Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return Candidate{}, nil, fmt.Errorf("scan scratch directory: %w", err)
	}
	if len(found) == 0 {
		return Candidate{}, nil, fmt.Errorf("no %s file in %s", ext, scratchDir)
	}

	sort.Slice(found, func(i, j int) bool {
		if !found[i].ModTime.Equal(found[j].ModTime) {
			return found[i].ModTime.After(found[j].ModTime)
		}
		return found[i].Path < found[j].Path
	})
	return found[0], found, nil
}

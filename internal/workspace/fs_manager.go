package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// fsWorkspaceManager manages the fixed staging/scratch layout on local disk.
type fsWorkspaceManager struct {
	stagingDir string
	scratchDir string
	publishDir string
}

var _ Manager = (*fsWorkspaceManager)(nil)

// NewFSManager creates a filesystem-backed workspace manager. publishedPath is
// only used to make sure the publication directory exists.
func NewFSManager(stagingDir, scratchDir, publishedPath string) (*fsWorkspaceManager, error) {
	staging := strings.TrimSpace(stagingDir)
	scratch := strings.TrimSpace(scratchDir)
	if staging == "" {
		return nil, fmt.Errorf("staging directory is empty")
	}
	if scratch == "" {
		return nil, fmt.Errorf("scratch directory is empty")
	}
	if filepath.Clean(staging) == filepath.Clean(scratch) {
		return nil, fmt.Errorf("staging and scratch directories must differ")
	}

	m := &fsWorkspaceManager{
		stagingDir: filepath.Clean(staging),
		scratchDir: filepath.Clean(scratch),
	}
	if strings.TrimSpace(publishedPath) != "" {
		m.publishDir = filepath.Dir(filepath.Clean(publishedPath))
	}
	return m, nil
}

// Prepare creates all layout directories.
func (m *fsWorkspaceManager) Prepare(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, dir := range []string{m.stagingDir, m.scratchDir, m.publishDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create layout directory %q: %w", dir, err)
		}
	}
	return nil
}

// Stage writes data to <staging>/input<ext> via a temp file and rename.
func (m *fsWorkspaceManager) Stage(ctx context.Context, data []byte, ext string) (StagedInput, error) {
	if err := ctx.Err(); err != nil {
		return StagedInput{}, err
	}
	if err := validateExt(ext); err != nil {
		return StagedInput{}, err
	}
	if err := os.MkdirAll(m.stagingDir, 0o755); err != nil {
		return StagedInput{}, fmt.Errorf("create staging directory: %w", err)
	}

	// Only one staged input may exist; drop leftovers with other extensions.
	if _, err := m.removeStaged(); err != nil {
		return StagedInput{}, err
	}

	path := filepath.Join(m.stagingDir, StagedInputStem+strings.ToLower(ext))

	tmpFile, err := os.CreateTemp(m.stagingDir, "."+StagedInputStem+".tmp-")
	if err != nil {
		return StagedInput{}, fmt.Errorf("create staging temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return StagedInput{}, fmt.Errorf("write staged input: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return StagedInput{}, fmt.Errorf("close staged input: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return StagedInput{}, fmt.Errorf("move staged input into place: %w", err)
	}

	return StagedInput{Path: path, Size: int64(len(data))}, nil
}

func (m *fsWorkspaceManager) ScratchDir() string { return m.scratchDir }

// Clean removes the staged input and empties the scratch directory.
func (m *fsWorkspaceManager) Clean(ctx context.Context, stagedPath string) (CleanupReport, error) {
	report := CleanupReport{}
	var errs []error

	if stagedPath != "" {
		if err := os.Remove(stagedPath); err == nil {
			report.RemovedStaged = true
		} else if !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("remove staged input: %w", err))
		}
	}

	deleted, err := m.emptyScratch(ctx)
	report.DeletedEntries = deleted
	if err != nil {
		errs = append(errs, err)
	}

	return report, errors.Join(errs...)
}

// Reset removes all staged inputs and empties the scratch directory.
func (m *fsWorkspaceManager) Reset(ctx context.Context) (CleanupReport, error) {
	if err := ctx.Err(); err != nil {
		return CleanupReport{}, err
	}

	report := CleanupReport{}
	var errs []error

	removed, err := m.removeStaged()
	report.RemovedStaged = removed > 0
	if err != nil {
		errs = append(errs, err)
	}

	deleted, err := m.emptyScratch(ctx)
	report.DeletedEntries = deleted
	if err != nil {
		errs = append(errs, err)
	}

	return report, errors.Join(errs...)
}

// removeStaged deletes every input.* and staging temp file.
func (m *fsWorkspaceManager) removeStaged() (int, error) {
	entries, err := os.ReadDir(m.stagingDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read staging directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			continue
		}
		if !strings.HasPrefix(name, StagedInputStem+".") && !strings.HasPrefix(name, "."+StagedInputStem+".tmp-") {
			continue
		}
		if err := os.Remove(filepath.Join(m.stagingDir, name)); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("remove stale staged input %q: %w", name, err)
		}
		removed++
	}
	return removed, nil
}

func (m *fsWorkspaceManager) emptyScratch(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(m.scratchDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read scratch directory: %w", err)
	}

	deleted := 0
	var errs []error
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		path := filepath.Join(m.scratchDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			errs = append(errs, fmt.Errorf("remove scratch entry %q: %w", entry.Name(), err))
			continue
		}
		deleted++
	}
	return deleted, errors.Join(errs...)
}

func validateExt(ext string) error {
	trimmed := strings.TrimSpace(ext)
	if trimmed == "" || trimmed == "." {
		return fmt.Errorf("staged input extension is empty")
	}
	if !strings.HasPrefix(trimmed, ".") {
		return fmt.Errorf("staged input extension %q must start with a dot", ext)
	}
	if strings.ContainsAny(trimmed, `/\`) || strings.Contains(trimmed, "..") {
		return fmt.Errorf("staged input extension %q must not contain path separators", ext)
	}
	return nil
}

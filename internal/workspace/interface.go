package workspace

import (
	"context"
)

// StagedInputStem is the fixed base name of the staged input file. Backends
// derive their conventional output names from it.
const StagedInputStem = "input"

// StagedInput describes the request image written where the backend expects it.
type StagedInput struct {
	Path string
	Size int64
}

// CleanupReport summarizes a cleanup run.
type CleanupReport struct {
	RemovedStaged  bool
	DeletedEntries int
}

// Manager governs the shared staging and scratch directories used by a
// generation job. Implementations assume a single job at a time; callers
// serialize access.
type Manager interface {
	// Prepare creates the staging, scratch and publication directories.
	Prepare(ctx context.Context) error

	// Stage writes data to the fixed staged input path, replacing any previous
	// content. ext selects the file extension (".png", ".jpg", ...).
	Stage(ctx context.Context, data []byte, ext string) (StagedInput, error)

	// ScratchDir returns the directory backends write candidate outputs into.
	ScratchDir() string

	// Clean deletes the staged input at stagedPath (if any) and empties the
	// scratch directory. It keeps going after individual failures and returns
	// them joined.
	Clean(ctx context.Context, stagedPath string) (CleanupReport, error)

	// Reset removes every staged input and all scratch contents, for use at
	// startup after an unclean shutdown.
	Reset(ctx context.Context) (CleanupReport, error)
}

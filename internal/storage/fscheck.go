package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// volume describes the filesystem backing a path.
type volume struct {
	Kind   string
	Device uint64
}

type probeFunc func(path string) (volume, error)

var errProbeUnsupported = errors.New("filesystem probing is unsupported on this platform")

// Kinds on which flock and SQLite locking cannot be trusted.
var remoteKinds = []string{"afpfs", "cifs", "nfs", "smb2", "smbfs", "webdav"}

// ValidateLocalFilesystem rejects paths that resolve onto a network share.
// It is used for the job database and the generation lock file, both of
// which depend on local advisory locks. Unsupported platforms pass.
func ValidateLocalFilesystem(path string) error {
	return checkLocal(path, probe)
}

// SameFilesystem reports whether a and b (or their nearest existing parents)
// share a device, which is what makes a rename between them atomic.
func SameFilesystem(a, b string) (bool, error) {
	va, err := probeExisting(a, probe)
	if err != nil {
		return false, err
	}
	vb, err := probeExisting(b, probe)
	if err != nil {
		return false, err
	}
	return va.Device == vb.Device, nil
}

func checkLocal(path string, p probeFunc) error {
	if path == "" {
		return errors.New("path is empty")
	}
	v, err := probeExisting(path, p)
	if errors.Is(err, errProbeUnsupported) {
		return nil
	}
	if err != nil {
		return err
	}
	if isRemote(v.Kind) {
		return fmt.Errorf("%q is on network filesystem %q; locking needs local disk, point state.path and layout.lock_path at a local directory", path, v.Kind)
	}
	return nil
}

func probeExisting(path string, p probeFunc) (volume, error) {
	existing, err := nearestExistingPath(path)
	if err != nil {
		return volume{}, err
	}
	v, err := p(existing)
	if err != nil {
		return volume{}, fmt.Errorf("probe filesystem of %q: %w", existing, err)
	}
	return v, nil
}

// nearestExistingPath walks up from path until it finds something that
// exists, so checks work before directories are created.
func nearestExistingPath(path string) (string, error) {
	dir, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", path, err)
	}
	for {
		_, err := os.Stat(dir)
		switch {
		case err == nil:
			return dir, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", fmt.Errorf("stat %q: %w", dir, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no existing ancestor of %q", path)
		}
		dir = parent
	}
}

func isRemote(kind string) bool {
	kind = strings.ToLower(strings.TrimSpace(kind))
	for _, k := range remoteKinds {
		if k == kind {
			return true
		}
	}
	return false
}

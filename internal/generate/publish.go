package generate

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/zeebo/blake3"
)

var glbMagic = []byte("glTF")

// checkGLBHeader verifies that path starts with the binary glTF magic.
func checkGLBHeader(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	head := make([]byte, len(glbMagic))
	if _, err := io.ReadFull(f, head); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if !bytes.Equal(head, glbMagic) {
		return fmt.Errorf("missing glTF binary header")
	}
	return nil
}

// publishFile moves src over dst in one rename so readers of dst see either
// the previous file or the new one. When src is on another filesystem it is
// first copied next to dst.
func publishFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create publication directory: %w", err)
	}

	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return fmt.Errorf("rename into place: %w", err)
	}

	tmp, err := copyBeside(src, dst)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename into place: %w", err)
	}
	_ = os.Remove(src)
	return nil
}

func copyBeside(src, dst string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open candidate: %w", err)
	}
	defer in.Close()

	out, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-")
	if err != nil {
		return "", fmt.Errorf("create publish temp file: %w", err)
	}
	tmp := out.Name()

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("copy candidate: %w", err)
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("sync publish temp file: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("close publish temp file: %w", err)
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("chmod publish temp file: %w", err)
	}
	return tmp, nil
}

// verifyPublished checks the published file exists and is at least minBytes.
// An undersized file is removed.
func verifyPublished(path string, minBytes int64) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat published model: %w", err)
	}
	if info.Size() < minBytes {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return info.Size(), fmt.Errorf("published model is %d bytes (minimum %d) and could not be removed: %w",
				info.Size(), minBytes, rmErr)
		}
		return info.Size(), fmt.Errorf("published model is %d bytes (minimum %d)", info.Size(), minBytes)
	}
	return info.Size(), nil
}

// digestFile returns the hex BLAKE3 digest of path.
func digestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

package generate

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"
)

func TestPublishFileReplacesExisting(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "scratch", "input.glb")
	dst := filepath.Join(dir, "public", "output.glb")
	require.NoError(t, os.MkdirAll(filepath.Dir(src), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Dir(dst), 0o755))
	require.NoError(t, os.WriteFile(dst, []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(src, []byte("new model"), 0o644))

	require.NoError(t, publishFile(src, dst))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "new model", string(got))
	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err), "publish moves, not copies")
}

func TestPublishFileMissingSourceKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "output.glb")
	require.NoError(t, os.WriteFile(dst, []byte("previous"), 0o644))

	err := publishFile(filepath.Join(dir, "missing.glb"), dst)
	require.Error(t, err)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "previous", string(got))
}

func TestCopyBesideCreatesTempInTargetDir(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.glb")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o600))
	dstDir := filepath.Join(dir, "public")
	require.NoError(t, os.Mkdir(dstDir, 0o755))

	tmp, err := copyBeside(src, filepath.Join(dstDir, "output.glb"))
	require.NoError(t, err)
	assert.Equal(t, dstDir, filepath.Dir(tmp))

	got, err := os.ReadFile(tmp)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
	info, err := os.Stat(tmp)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestVerifyPublished(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "output.glb")

	require.NoError(t, os.WriteFile(path, glb(100, 'v'), 0o644))
	size, err := verifyPublished(path, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), size)

	require.NoError(t, os.WriteFile(path, glb(99, 'v'), 0o644))
	_, err = verifyPublished(path, 100)
	require.Error(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	_, err = verifyPublished(filepath.Join(dir, "absent.glb"), 100)
	assert.Error(t, err)
}

func TestCheckGLBHeader(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.glb")
	require.NoError(t, os.WriteFile(good, glb(12, 0), 0o644))
	assert.NoError(t, checkGLBHeader(good))

	bad := filepath.Join(dir, "bad.glb")
	require.NoError(t, os.WriteFile(bad, []byte("{\"asset\":{}}"), 0o644))
	assert.Error(t, checkGLBHeader(bad))

	short := filepath.Join(dir, "short.glb")
	require.NoError(t, os.WriteFile(short, []byte("gl"), 0o644))
	assert.Error(t, checkGLBHeader(short))
}

func TestDigestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.glb")
	data := glb(300, 'd')
	require.NoError(t, os.WriteFile(path, data, 0o644))

	got, err := digestFile(path)
	require.NoError(t, err)
	sum := blake3.Sum256(data)
	assert.Equal(t, hex.EncodeToString(sum[:]), got)
}

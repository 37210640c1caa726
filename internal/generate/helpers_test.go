package generate

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/sketchar/internal/backend"
	"github.com/mattjoyce/sketchar/internal/config"
	"github.com/mattjoyce/sketchar/internal/workspace"
)

// funcBackend adapts a function to backend.Backend.
type funcBackend struct {
	name string
	fn   func(ctx context.Context, inv backend.Invocation) error
}

func (f *funcBackend) Name() string { return f.name }

func (f *funcBackend) OutputName(inv backend.Invocation) string {
	return filepath.Join(inv.ScratchDir, inv.Stem()+".glb")
}

func (f *funcBackend) Generate(ctx context.Context, inv backend.Invocation) error {
	return f.fn(ctx, inv)
}

// writesModel returns a backend that writes content to its conventional output.
func writesModel(content []byte) *funcBackend {
	return &funcBackend{name: "fake", fn: func(_ context.Context, inv backend.Invocation) error {
		return os.WriteFile(filepath.Join(inv.ScratchDir, inv.Stem()+".glb"), content, 0o644)
	}}
}

// glb returns n bytes starting with the binary glTF magic.
func glb(n int, fill byte) []byte {
	out := bytes.Repeat([]byte{fill}, n)
	copy(out, "glTF")
	return out
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type testEnv struct {
	root   string
	layout config.LayoutConfig
	gen    config.GenerationConfig
	ws     workspace.Manager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	layout := config.LayoutConfig{
		StagingDir:    filepath.Join(root, "staging"),
		ScratchDir:    filepath.Join(root, "scratch"),
		PublishedPath: filepath.Join(root, "public", "generated_models", "output.glb"),
		PublicURL:     "/generated_models/output.glb",
		LockPath:      filepath.Join(root, "generation.lock"),
	}
	ws, err := workspace.NewFSManager(layout.StagingDir, layout.ScratchDir, layout.PublishedPath)
	require.NoError(t, err)
	require.NoError(t, ws.Prepare(context.Background()))

	return &testEnv{
		root:   root,
		layout: layout,
		gen: config.GenerationConfig{
			Backend:          "fake",
			Timeout:          5 * time.Second,
			TerminationGrace: 100 * time.Millisecond,
			MinModelBytes:    100,
			OutputExt:        ".glb",
			BusyPolicy:       config.BusyReject,
		},
		ws: ws,
	}
}

func (e *testEnv) orchestrator(t *testing.T, backends ...backend.Backend) *Orchestrator {
	t.Helper()
	return e.orchestratorWith(t, Options{}, backends...)
}

func (e *testEnv) orchestratorWith(t *testing.T, opts Options, backends ...backend.Backend) *Orchestrator {
	t.Helper()
	opts.Layout = e.layout
	opts.Generation = e.gen
	opts.Workspace = e.ws
	opts.Backends = backend.NewRegistry(backends...)
	o, err := New(opts)
	require.NoError(t, err)
	return o
}

// assertClean fails unless no staged input remains and scratch is empty.
func (e *testEnv) assertClean(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(e.layout.StagingDir)
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("ReadDir(staging) error = %v", err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "input") || strings.HasPrefix(entry.Name(), ".input") {
			t.Fatalf("staged input left behind: %s", entry.Name())
		}
	}
	entries, err = os.ReadDir(e.layout.ScratchDir)
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("ReadDir(scratch) error = %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("scratch not empty: %d entries", len(entries))
	}
}

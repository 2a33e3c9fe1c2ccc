package compiler

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputsFromMetafile(t *testing.T) {
	meta := `{"outputs":{"build/b.js":{"bytes":20},"build/a.js":{"bytes":10}}}`
	outputs, err := outputsFromMetafile(meta)
	require.NoError(t, err)
	require.Len(t, outputs, 2)
	assert.Equal(t, "build/a.js", outputs[0].Path)
	assert.Equal(t, int64(10), outputs[0].Bytes)
	assert.Equal(t, "build/b.js", outputs[1].Path)
}

func TestOutputsFromMetafileEmpty(t *testing.T) {
	outputs, err := outputsFromMetafile("")
	require.NoError(t, err)
	assert.Nil(t, outputs)
}

func TestOutputsFromMetafileInvalid(t *testing.T) {
	_, err := outputsFromMetafile("{not json")
	assert.Error(t, err)
}

func TestCompileSimpleBundle(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	entry := filepath.Join(src, "index.ts")
	require.NoError(t, os.WriteFile(entry, []byte("export const answer: number = 42\nconsole.log(answer)\n"), 0o600))

	res, err := NewEsbuild().Compile(context.Background(), Options{
		EntryPoints: []string{entry},
		Outdir:      out,
		Platform:    PlatformConfig{Platform: "browser", Format: "iife", Target: "es2020"},
		BannerJS:    "/* generated */",
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.Outputs)
	assert.NotEmpty(t, res.Metafile)

	data, err := os.ReadFile(filepath.Join(out, "index.js"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "/* generated */")
	assert.Contains(t, string(data), "42")
}

func TestCompileSyntaxError(t *testing.T) {
	src := t.TempDir()
	entry := filepath.Join(src, "broken.ts")
	require.NoError(t, os.WriteFile(entry, []byte("const = broken\n"), 0o600))

	_, err := NewEsbuild().Compile(context.Background(), Options{
		EntryPoints: []string{entry},
		Outdir:      t.TempDir(),
	})
	assert.Error(t, err)
}

func TestCompileCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewEsbuild().Compile(ctx, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

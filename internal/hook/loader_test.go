package hook

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_MissingFileIsEmptyConfig(t *testing.T) {
	l := NewLoader(filepath.Join(t.TempDir(), "hooks.conf"))

	cfg, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cfg.Agents)
}

func TestLoader_CachesUntilMtimeChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hooks.conf")
	require.NoError(t, os.WriteFile(path, []byte("[a]\nbefore_claim: true\n"), 0o644))
	l := NewLoader(path)

	first, err := l.Load(context.Background())
	require.NoError(t, err)
	second, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, second)

	// Rewrite with a different mtime; the next load re-parses.
	require.NoError(t, os.WriteFile(path, []byte("[b]\nbefore_claim: true\n"), 0o644))
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	third, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	_, ok := third.Agents["b"]
	assert.True(t, ok)
}

func TestLoader_ParseErrorSurfaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hooks.conf")
	require.NoError(t, os.WriteFile(path, []byte("orphan entry: true\n"), 0o644))
	l := NewLoader(path)

	_, err := l.Load(context.Background())
	assert.Error(t, err)
}

package patterns

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(name), 0644))
	}
}

func newResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := NewResolver(0)
	require.NoError(t, err)
	return r
}

func TestResolveExplicitAndGlobDeduplicated(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.log", "b.txt", "c.txt")

	files, err := newResolver(t).Resolve([]string{
		filepath.Join(dir, "a.log"),
		filepath.Join(dir, "*.txt"),
		filepath.Join(dir, "b.txt"),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(dir, "a.log"),
		filepath.Join(dir, "b.txt"),
		filepath.Join(dir, "c.txt"),
	}, files)
}

func TestResolveSkipsMissingAndDirectories(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.log", "sub/x.log")

	files, err := newResolver(t).Resolve([]string{
		filepath.Join(dir, "missing.log"),
		filepath.Join(dir, "*"),
		"",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.log")}, files)
}

func TestResolveRecursive(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "top.log", "app/one.log", "app/deep/two.log", "app/deep/skip.txt")

	files, err := newResolver(t).Resolve([]string{filepath.Join(dir, "**", "*.log")})
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(dir, "app", "deep", "two.log"),
		filepath.Join(dir, "app", "one.log"),
		filepath.Join(dir, "top.log"),
	}, files)
}

func TestResolveReportsMalformedPatternButKeepsOthers(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.log")

	files, err := newResolver(t).Resolve([]string{
		filepath.Join(dir, "[.log"),
		filepath.Join(dir, "a.log"),
	})
	assert.Error(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.log")}, files)
}

func TestResolveUsesCache(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "x/a.log")
	r := newResolver(t)
	pattern := filepath.Join(dir, "**", "*.log")

	_, err := r.Resolve([]string{pattern})
	require.NoError(t, err)
	assert.Equal(t, 1, r.cache.Len())

	writeFiles(t, dir, "x/b.log")
	files, err := r.Resolve([]string{pattern})
	require.NoError(t, err)
	assert.Len(t, files, 2)
	assert.Equal(t, 1, r.cache.Len())
}

func TestBase(t *testing.T) {
	assert.Equal(t, "/var/log", Base("/var/log/*.log"))
	assert.Equal(t, "/var/log", Base("/var/log/**/*.log"))
	assert.Equal(t, "/var/log", Base("/var/log/app.log"))
	assert.Equal(t, "/", Base("/*.log"))
	assert.Equal(t, ".", Base("*.log"))
}

func TestCommonAncestor(t *testing.T) {
	assert.Equal(t, "/data/logs", CommonAncestor([]string{"/data/logs/a", "/data/logs/b/c"}))
	assert.Equal(t, "/data", CommonAncestor([]string{"/data/ab", "/data/abc"}))
	assert.Equal(t, "/", CommonAncestor([]string{"/x", "/y"}))
	assert.Equal(t, "", CommonAncestor(nil))
}

func TestResolveBraceAlternatives(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.log", "b.txt", "c.csv", "nested/d.log", "nested/deeper/e.txt")

	r := newResolver(t)

	flat, err := r.Resolve([]string{filepath.Join(dir, "*.{log,txt}")})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.log"),
		filepath.Join(dir, "b.txt"),
	}, flat)

	recursive, err := r.Resolve([]string{filepath.Join(dir, "**", "*.{log,txt}")})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.log"),
		filepath.Join(dir, "b.txt"),
		filepath.Join(dir, "nested", "d.log"),
		filepath.Join(dir, "nested", "deeper", "e.txt"),
	}, recursive)

	nested, err := r.Resolve([]string{filepath.Join(dir, "*", "*.{log,txt}")})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "nested", "d.log")}, nested)
}

package source

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMarvinINI = `[uwsgi]
callable = app
socketdir = /tmp/marvin
tag = test
module = marvin.web.uwsgi_conf_files.app
base = marvin
app_name = marvin_%(tag)
env = MARVIN_BASE=%(app_name)
ini = %dbase.ini
`

const testBaseINI = `[uwsgi]
socket = %(socketdir)/%(app_name).sock
processes = 4
`

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, data := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	}
}

func TestFileRepository(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"marvin.ini": testMarvinINI, "base.ini": testBaseINI})

	repo := &FileRepository{Name: "marvin", Path: filepath.Join(dir, "marvin.ini")}
	assert.Equal(t, "marvin", repo.GetName())

	_, ok := repo.GetData("uwsgi")
	assert.False(t, ok, "no data before the first refresh")

	require.NoError(t, repo.Refresh())

	g, ok := repo.GetData("uwsgi")
	require.True(t, ok)
	appName, _ := g.Get("app_name")
	assert.Equal(t, "marvin_test", appName)
	socket, _ := g.Get("socket")
	assert.Equal(t, "/tmp/marvin/marvin_test.sock", socket)
	assert.Equal(t, []string{"uwsgi"}, repo.Groups())

	// GetData returns copies.
	g.Set("tag", "changed")
	again, _ := repo.GetData("uwsgi")
	tag, _ := again.Get("tag")
	assert.Equal(t, "test", tag)

	raw := string(repo.GetRawData())
	assert.True(t, strings.HasPrefix(raw, "[uwsgi]\n"))
	assert.Contains(t, raw, "app_name = marvin_test\n")
	assert.NotContains(t, raw, "ini =")

	_, ok = repo.GetData("production")
	assert.False(t, ok)
}

func TestFileRepositoryKeepsLastGoodData(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"marvin.ini": testMarvinINI, "base.ini": testBaseINI})

	repo := &FileRepository{Name: "marvin", Path: filepath.Join(dir, "marvin.ini")}
	require.NoError(t, repo.Refresh())

	require.NoError(t, os.Remove(filepath.Join(dir, "base.ini")))
	err := repo.Refresh()
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist), err)

	g, ok := repo.GetData("uwsgi")
	require.True(t, ok)
	socket, _ := g.Get("socket")
	assert.Equal(t, "/tmp/marvin/marvin_test.sock", socket)
}

func TestFileRepositoryStrict(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"marvin.ini": "[uwsgi]\napp_name = marvin_%(tag)\n"})

	repo := &FileRepository{Name: "marvin", Path: filepath.Join(dir, "marvin.ini")}
	require.NoError(t, repo.Refresh())

	repo.Strict = true
	assert.Error(t, repo.Refresh())
}

func TestFileRepositoryMissingFile(t *testing.T) {
	repo := &FileRepository{Name: "missing", Path: filepath.Join(t.TempDir(), "does-not-exist.ini")}
	err := repo.Refresh()
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist), err)
}

func TestFileRepositoryWatch(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"marvin.ini": testMarvinINI, "base.ini": testBaseINI})

	repo := &FileRepository{Name: "marvin", Path: filepath.Join(dir, "marvin.ini"), Debounce: 20 * time.Millisecond}
	require.NoError(t, repo.Refresh())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, repo.Watch(ctx))

	// Changing an included file reloads the including group.
	writeFiles(t, dir, map[string]string{"base.ini": strings.Replace(testBaseINI, "processes = 4", "processes = 16", 1)})

	require.Eventually(t, func() bool {
		g, ok := repo.GetData("uwsgi")
		if !ok {
			return false
		}
		processes, _ := g.Get("processes")
		return processes == "16"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestFileRepositoryEscapedPercent(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"marvin.ini": "[uwsgi]\ntag = test\nliteral = %%(tag)\npct = 100%%d\napp_name = marvin_%(tag)\n"})

	repo := &FileRepository{Name: "marvin", Path: filepath.Join(dir, "marvin.ini")}
	require.NoError(t, repo.Refresh())

	g, ok := repo.GetData("uwsgi")
	require.True(t, ok)
	literal, _ := g.Get("literal")
	assert.Equal(t, "%(tag)", literal)
	pct, _ := g.Get("pct")
	assert.Equal(t, "100%d", pct)
	appName, _ := g.Get("app_name")
	assert.Equal(t, "marvin_test", appName)

	raw := string(repo.GetRawData())
	assert.Contains(t, raw, "literal = %%(tag)\n")
	assert.Contains(t, raw, "pct = 100%%d\n")
}

func TestFileRepositoryRelativePath(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"conf/marvin.ini": "[uwsgi]\nbase = marvin\nini = %dbase.ini\n",
		"conf/base.ini":   "[uwsgi]\nenv = MARVIN_CONFIG=%d%(base).yml\n",
	})

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	abs, err := os.Getwd()
	require.NoError(t, err)

	repo := &FileRepository{Name: "marvin", Path: "conf/marvin.ini"}
	require.NoError(t, repo.Refresh())

	g, ok := repo.GetData("uwsgi")
	require.True(t, ok)
	assert.Equal(t, []string{"MARVIN_CONFIG=" + filepath.ToSlash(abs) + "/conf/marvin.yml"}, g.Environ())
	assert.Equal(t, []string{filepath.ToSlash(abs) + "/conf/base.ini:uwsgi"}, g.Includes())
}

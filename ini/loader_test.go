package ini

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sardine-ai/go-uwsgi-config/model"
)

const marvinINI = `[uwsgi]
callable = app
wwwdir = /home/www/sas.sdss.org/marvin
socketdir = /tmp/marvin
tag = test
module = marvin.web.uwsgi_conf_files.app
base = marvin
app_name = marvin_%(tag)
env = MARVIN_BASE=%(app_name)
ini = %dbase.ini
env = LAST=1
`

const baseINI = `[uwsgi]
socket = %(socketdir)/%(app_name).sock
env = MARVIN_CONFIG=%d%(base).yml
master = true

[other]
processes = 2
`

func newFS(t *testing.T, files map[string]string) billy.Filesystem {
	t.Helper()
	fs := memfs.New()
	for name, data := range files {
		require.NoError(t, util.WriteFile(fs, name, []byte(data), 0o644))
	}
	return fs
}

func newLoader(t *testing.T, files map[string]string) *Loader {
	l := NewLoader(FilesystemOpener(newFS(t, files)))
	l.LookupEnv = func(name string) (string, bool) {
		if name == "HOME" {
			return "/home/marvin", true
		}
		return "", false
	}
	return l
}

func get(t *testing.T, g *model.Group, key string) string {
	t.Helper()
	v, ok := g.Get(key)
	require.True(t, ok, "key %q missing", key)
	return v
}

func TestLoadResolvesTagPlaceholder(t *testing.T) {
	l := newLoader(t, map[string]string{"/etc/uwsgi/marvin.ini": "[uwsgi]\ntag = test\napp_name = marvin_%(tag)\n"})

	g, err := l.Load(context.Background(), "/etc/uwsgi/marvin.ini")
	require.NoError(t, err)
	assert.Equal(t, "marvin_test", get(t, g, "app_name"))
	assert.NoError(t, g.Validate())
}

func TestLoadInclude(t *testing.T) {
	l := newLoader(t, map[string]string{
		"/etc/uwsgi/marvin.ini": marvinINI,
		"/etc/uwsgi/base.ini":   baseINI,
	})

	g, err := l.Load(context.Background(), "/etc/uwsgi/marvin.ini")
	require.NoError(t, err)

	assert.Equal(t, "uwsgi", g.Name)
	assert.False(t, g.Has(IncludeKey))
	assert.Equal(t, []string{"/etc/uwsgi/base.ini:uwsgi"}, g.Includes())
	assert.Equal(t, "/tmp/marvin/marvin_test.sock", get(t, g, "socket"))
	assert.Equal(t, "true", get(t, g, "master"))
	assert.Equal(t, []string{
		"MARVIN_BASE=marvin_test",
		"MARVIN_CONFIG=/etc/uwsgi/marvin.yml",
		"LAST=1",
	}, g.Environ())
	assert.False(t, g.Has("processes"), "other groups of the included file are not merged")
	assert.NoError(t, g.Validate())

	d, err := model.NewDeployment(g)
	require.NoError(t, err)
	assert.Equal(t, "marvin_test", d.AppName)
	assert.True(t, bool(d.Master))
}

func TestLoadNamedGroups(t *testing.T) {
	l := newLoader(t, map[string]string{
		"conf/marvin.ini": "[uwsgi]\ntag = test\n\n[prod]\ntag = prod\nini = %dbase.ini:other\n",
		"conf/base.ini":   baseINI,
	})

	g, err := l.Load(context.Background(), "conf/marvin.ini:prod")
	require.NoError(t, err)
	assert.Equal(t, "prod", g.Name)
	assert.Equal(t, "prod", get(t, g, "tag"))
	assert.Equal(t, "2", get(t, g, "processes"))
	assert.Equal(t, []string{"conf/base.ini:other"}, g.Includes())

	doc, err := l.LoadDocument(context.Background(), "conf/marvin.ini")
	require.NoError(t, err)
	assert.Equal(t, []string{"uwsgi", "prod"}, doc.Names())
}

func TestLoadPlaceholderDefinedLater(t *testing.T) {
	l := newLoader(t, map[string]string{"a.ini": "[uwsgi]\napp_name = marvin_%(tag)\ntag = first\ntag = second\n"})

	g, err := l.Load(context.Background(), "a.ini")
	require.NoError(t, err)
	assert.Equal(t, "marvin_second", get(t, g, "app_name"))
	assert.Equal(t, []string{"first", "second"}, g.Values("tag"))
}

func TestLoadIncludePathUsesPlaceholders(t *testing.T) {
	l := newLoader(t, map[string]string{
		"a.ini":           "[uwsgi]\nenvname = prod\nini = %denv/%(envname).ini\n",
		"env/prod.ini":    "[uwsgi]\nprocesses = 8\n",
		"env/staging.ini": "[uwsgi]\nprocesses = 2\n",
	})

	g, err := l.Load(context.Background(), "a.ini")
	require.NoError(t, err)
	assert.Equal(t, "8", get(t, g, "processes"))
}

func TestLoadMagicVariables(t *testing.T) {
	l := newLoader(t, map[string]string{
		"/srv/apps/marvin.ini": "[uwsgi]\n" +
			"d = %d\n" +
			"p = %p\n" +
			"s = %s\n" +
			"e = %e\n" +
			"n = %n\n" +
			"c = %c\n" +
			"x = %x\n" +
			"pct = 100%%\n" +
			"unknown = %q\n" +
			"home = $(HOME)/venv\n" +
			"unset = [$(NOPE)]\n",
	})

	g, err := l.Load(context.Background(), "/srv/apps/marvin.ini")
	require.NoError(t, err)
	want := map[string]string{
		"d":       "/srv/apps/",
		"p":       "/srv/apps/marvin.ini",
		"s":       "marvin.ini",
		"e":       "ini",
		"n":       "marvin",
		"c":       "apps",
		"x":       "/srv/apps/marvin.ini:uwsgi",
		"pct":     "100%",
		"unknown": "%q",
		"home":    "/home/marvin/venv",
		"unset":   "[]",
	}
	for k, v := range want {
		assert.Equal(t, v, get(t, g, k), k)
	}
}

func TestLoadEscapedPlaceholder(t *testing.T) {
	l := newLoader(t, map[string]string{"a.ini": "[uwsgi]\ntag = test\nliteral = %%(tag)\n"})

	g, err := l.Load(context.Background(), "a.ini")
	require.NoError(t, err)
	assert.Equal(t, "%(tag)", get(t, g, "literal"))
	assert.True(t, g.Resolved())
	assert.Empty(t, g.Unresolved("literal"))
	assert.NoError(t, g.Validate())
}

func TestLoadUnresolvedPlaceholder(t *testing.T) {
	files := map[string]string{"a.ini": "[uwsgi]\napp_name = marvin_%(tag)\n"}

	g, err := newLoader(t, files).Load(context.Background(), "a.ini")
	require.NoError(t, err)
	assert.Equal(t, "marvin_%(tag)", get(t, g, "app_name"))
	assert.Equal(t, []string{"tag"}, g.Unresolved("app_name"))

	l := newLoader(t, files)
	l.Strict = true
	_, err = l.Load(context.Background(), "a.ini")
	assert.True(t, errors.Is(err, ErrUnresolvedPlaceholder), err)
}

func TestLoadErrors(t *testing.T) {
	testCases := []struct {
		name  string
		files map[string]string
		spec  string
		want  error
	}{
		{
			name:  "include cycle",
			files: map[string]string{"a.ini": "[uwsgi]\nini = b.ini\n", "b.ini": "[uwsgi]\nini = a.ini\n"},
			spec:  "a.ini",
			want:  ErrIncludeCycle,
		},
		{
			name:  "self include",
			files: map[string]string{"a.ini": "[uwsgi]\nini = %p\n"},
			spec:  "a.ini",
			want:  ErrIncludeCycle,
		},
		{
			name:  "missing group",
			files: map[string]string{"a.ini": "[uwsgi]\na = b\n"},
			spec:  "a.ini:production",
			want:  ErrGroupNotFound,
		},
		{
			name:  "missing included group",
			files: map[string]string{"a.ini": "[uwsgi]\nini = b.ini:nope\n", "b.ini": "[uwsgi]\n"},
			spec:  "a.ini",
			want:  ErrGroupNotFound,
		},
		{
			name:  "placeholder cycle",
			files: map[string]string{"a.ini": "[uwsgi]\na = %(b)\nb = %(a)\n"},
			spec:  "a.ini",
			want:  ErrPlaceholderCycle,
		},
		{
			name:  "missing include",
			files: map[string]string{"a.ini": "[uwsgi]\nini = %dmissing.ini\n"},
			spec:  "a.ini",
			want:  os.ErrNotExist,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := newLoader(t, tc.files).Load(context.Background(), tc.spec)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestLoadIncludeDepth(t *testing.T) {
	l := newLoader(t, map[string]string{
		"a.ini": "[uwsgi]\nini = b.ini\n",
		"b.ini": "[uwsgi]\nini = c.ini\n",
		"c.ini": "[uwsgi]\nx = 1\n",
	})
	l.MaxDepth = 1
	_, err := l.Load(context.Background(), "a.ini")
	assert.True(t, errors.Is(err, ErrIncludeDepth), err)

	l.MaxDepth = 2
	g, err := l.Load(context.Background(), "a.ini")
	require.NoError(t, err)
	assert.Equal(t, []string{"b.ini:uwsgi", "c.ini:uwsgi"}, g.Includes())
}

func TestLoadSameFileTwiceIsNotACycle(t *testing.T) {
	l := newLoader(t, map[string]string{
		"a.ini":      "[uwsgi]\nini = common.ini\nini = extra.ini\n",
		"extra.ini":  "[uwsgi]\nini = common.ini\n",
		"common.ini": "[uwsgi]\nenv = A=1\n",
	})
	g, err := l.Load(context.Background(), "a.ini")
	require.NoError(t, err)
	assert.Equal(t, []string{"A=1", "A=1"}, g.Environ())
}

func TestLoadCanceledContext(t *testing.T) {
	l := newLoader(t, map[string]string{"a.ini": "[uwsgi]\n"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Load(ctx, "a.ini")
	assert.True(t, errors.Is(err, context.Canceled), err)
}

func TestLoadShippedConfiguration(t *testing.T) {
	path, err := filepath.Abs("../deploy/uwsgi/marvin.ini")
	require.NoError(t, err)
	dir := filepath.ToSlash(filepath.Dir(path)) + "/"

	l := NewLoader(LocalOpener())
	doc, err := l.LoadDocument(context.Background(), filepath.ToSlash(path))
	require.NoError(t, err)
	require.NoError(t, doc.Validate())
	assert.Equal(t, []string{"uwsgi", "production"}, doc.Names())

	g, ok := doc.Group("uwsgi")
	require.True(t, ok)
	assert.Equal(t, "marvin_test", get(t, g, "app_name"))
	assert.Equal(t, "marvin.web.uwsgi_conf_files.app", get(t, g, "module"))
	assert.Equal(t, "/tmp/marvin/marvin_test.sock", get(t, g, "socket"))
	assert.Equal(t, []string{
		"MARVIN_BASE=marvin_test",
		"FLASK_APP=marvin.web.uwsgi_conf_files.app",
		"MARVIN_CONFIG=" + dir + "marvin.yml",
	}, g.Environ())

	d, err := model.NewDeployment(g)
	require.NoError(t, err)
	assert.Equal(t, model.Count(4), d.Processes)

	prod, ok := doc.Group("production")
	require.True(t, ok)
	assert.Equal(t, "marvin_prod", get(t, prod, "app_name"))
	assert.Equal(t, "/var/run/uwsgi/marvin_prod.sock", get(t, prod, "socket"))
	assert.Equal(t, "8", get(t, prod, "processes"))

	d, err = model.NewDeployment(prod)
	require.NoError(t, err)
	assert.Equal(t, model.Count(8), d.Processes)
}

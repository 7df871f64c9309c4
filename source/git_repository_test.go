package source

import (
	"context"
	"net/url"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// originRepository is a local git repository served to GitRepository over
// the file transport.
type originRepository struct {
	t    *testing.T
	dir  string
	repo *git.Repository
}

func newOriginRepository(t *testing.T) *originRepository {
	t.Helper()
	// the file transport runs git-upload-pack
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	return &originRepository{t: t, dir: dir, repo: repo}
}

// commit writes files and commits them on the checked out branch.
func (o *originRepository) commit(msg string, files map[string]string) {
	o.t.Helper()
	writeFiles(o.t, o.dir, files)
	wt, err := o.repo.Worktree()
	require.NoError(o.t, err)
	for name := range files {
		_, err := wt.Add(filepath.ToSlash(name))
		require.NoError(o.t, err)
	}
	_, err = wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{Name: "deploy", Email: "deploy@example.com", When: time.Now()},
	})
	require.NoError(o.t, err)
}

func (o *originRepository) checkout(branch string, create bool) {
	o.t.Helper()
	wt, err := o.repo.Worktree()
	require.NoError(o.t, err)
	require.NoError(o.t, wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(branch),
		Create: create,
	}))
}

func (o *originRepository) url() *url.URL {
	return &url.URL{Path: filepath.ToSlash(o.dir)}
}

func groupAppName(t *testing.T, repo Repository) string {
	t.Helper()
	g, ok := repo.GetData("uwsgi")
	require.True(t, ok)
	v, _ := g.Get("app_name")
	return v
}

func TestGitRepositoryLoadsFromWorktree(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "deploy/uwsgi/marvin.ini", []byte(testMarvinINI), 0o644))
	require.NoError(t, util.WriteFile(fs, "deploy/uwsgi/base.ini", []byte(testBaseINI), 0o644))

	repo := &GitRepository{Name: "marvin", Path: "deploy/uwsgi/marvin.ini"}
	assert.Equal(t, "marvin", repo.GetName())
	require.NoError(t, repo.loadFrom(context.Background(), fs))

	g, ok := repo.GetData("uwsgi")
	require.True(t, ok)
	assert.Equal(t, []string{"deploy/uwsgi/base.ini:uwsgi"}, g.Includes())
	socket, _ := g.Get("socket")
	assert.Equal(t, "/tmp/marvin/marvin_test.sock", socket)
}

func TestGitRepositoryRequiresURL(t *testing.T) {
	repo := &GitRepository{Name: "marvin", Path: "marvin.ini"}
	assert.Error(t, repo.Refresh())
}

func TestGitRepositoryClonesAndPulls(t *testing.T) {
	origin := newOriginRepository(t)
	origin.commit("add uwsgi config", map[string]string{
		"uwsgi/marvin.ini": testMarvinINI,
		"uwsgi/base.ini":   testBaseINI,
	})

	repo := &GitRepository{Name: "marvin", URL: origin.url(), Path: "uwsgi/marvin.ini"}
	require.NoError(t, repo.Refresh())
	assert.Equal(t, "marvin_test", groupAppName(t, repo))
	assert.Contains(t, string(repo.GetRawData()), "socket = /tmp/marvin/marvin_test.sock\n")

	// nothing new to pull
	require.NoError(t, repo.Refresh())
	assert.Equal(t, "marvin_test", groupAppName(t, repo))

	origin.commit("tag production", map[string]string{
		"uwsgi/marvin.ini": strings.Replace(testMarvinINI, "tag = test", "tag = prod", 1),
	})
	require.NoError(t, repo.Refresh())
	assert.Equal(t, "marvin_prod", groupAppName(t, repo))
	g, ok := repo.GetData("uwsgi")
	require.True(t, ok)
	socket, _ := g.Get("socket")
	assert.Equal(t, "/tmp/marvin/marvin_prod.sock", socket)
}

func TestGitRepositoryBranch(t *testing.T) {
	origin := newOriginRepository(t)
	origin.commit("add uwsgi config", map[string]string{
		"uwsgi/marvin.ini": testMarvinINI,
		"uwsgi/base.ini":   testBaseINI,
	})
	origin.checkout("release", true)
	origin.commit("tag release", map[string]string{
		"uwsgi/marvin.ini": strings.Replace(testMarvinINI, "tag = test", "tag = release", 1),
	})
	origin.checkout("master", false)

	main := &GitRepository{Name: "marvin", URL: origin.url(), Path: "uwsgi/marvin.ini"}
	require.NoError(t, main.Refresh())
	assert.Equal(t, "marvin_test", groupAppName(t, main))

	release := &GitRepository{Name: "marvin", URL: origin.url(), Path: "uwsgi/marvin.ini", Branch: "release"}
	require.NoError(t, release.Refresh())
	assert.Equal(t, "marvin_release", groupAppName(t, release))

	origin.checkout("release", false)
	origin.commit("release candidate", map[string]string{
		"uwsgi/marvin.ini": strings.Replace(testMarvinINI, "tag = test", "tag = rc", 1),
	})
	require.NoError(t, release.Refresh())
	assert.Equal(t, "marvin_rc", groupAppName(t, release))
}

func TestGitRepositoryMissingEntry(t *testing.T) {
	origin := newOriginRepository(t)
	origin.commit("add base only", map[string]string{"uwsgi/base.ini": testBaseINI})

	repo := &GitRepository{Name: "marvin", URL: origin.url(), Path: "uwsgi/marvin.ini"}
	assert.Error(t, repo.Refresh())
	_, ok := repo.GetData("uwsgi")
	assert.False(t, ok)
}

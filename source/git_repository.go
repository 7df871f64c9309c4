package source

import (
	"context"
	"errors"
	"net/url"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/sirupsen/logrus"

	"github.com/sardine-ai/go-uwsgi-config/ini"
)

// GitRepository is a struct that implements the Repository interface for
// handling a configuration stored in a Git repository. The repository is
// cloned into memory and pulled on every refresh; includes are read from the
// same worktree.
// Prefer uploading the configuration to a S3/GCS bucket from CI: Git hosting
// APIs are rate limited.
type GitRepository struct {
	store
	Name          string           // Name of the configuration source
	URL           *url.URL         // URL representing the Git repository URL
	Path          string           // Path to the entry ini file within the Git repository
	Branch        string           // Branch to use when cloning the Git repository
	Auth          *http.BasicAuth  // BasicAuth to use when cloning the Git repository
	Strict        bool             // Fail on placeholders naming undefined keys
	syncMu        sync.Mutex       // Serializes clone and pull
	gitRepository *git.Repository  // Go-Git repository instance for the in-memory clone
	fs            billy.Filesystem // Filesystem to store the in-memory clone of the repository
}

// GetName returns the name of the configuration source.
func (g *GitRepository) GetName() string {
	return g.Name
}

// Refresh clones or pulls the Git repository and resolves the entry file.
func (g *GitRepository) Refresh() error {
	ctx := context.Background()

	fs, err := g.sync(ctx)
	if err != nil {
		return err
	}
	return g.loadFrom(ctx, fs)
}

func (g *GitRepository) loadFrom(ctx context.Context, fs billy.Filesystem) error {
	_, err := g.store.load(ctx, ini.FilesystemOpener(fs), g.Path, g.Strict)
	if err != nil {
		logrus.WithError(err).WithField("path", g.Path).Debug("error loading worktree file")
	}
	return err
}

// sync clones the repository on first use and pulls it afterwards. The
// returned filesystem holds the worktree.
func (g *GitRepository) sync(ctx context.Context) (billy.Filesystem, error) {
	g.syncMu.Lock()
	defer g.syncMu.Unlock()

	if g.URL == nil {
		return nil, errors.New("git repository has no URL")
	}

	// If the in-memory clone of the Git repository does not exist, create it.
	if g.gitRepository == nil {
		fs := memfs.New()
		logrus.Debugf("Cloning %s into memory", g.URL.Redacted())
		r, err := git.CloneContext(ctx, memory.NewStorage(), fs, &git.CloneOptions{
			URL:  g.URL.String(),
			Auth: g.Auth,
		})
		if err != nil {
			return nil, err
		}

		if g.Branch != "" {
			w, err := r.Worktree()
			if err != nil {
				return nil, err
			}

			err = r.FetchContext(ctx, &git.FetchOptions{
				RefSpecs: []config.RefSpec{"refs/*:refs/*", "HEAD:refs/heads/HEAD"},
				Auth:     g.Auth,
			})
			if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
				return nil, err
			}

			err = w.Checkout(&git.CheckoutOptions{
				Branch: plumbing.NewBranchReferenceName(g.Branch),
				Force:  true,
			})
			if err != nil {
				return nil, err
			}
		}

		logrus.Debug("Cloned")
		g.gitRepository = r
		g.fs = fs
		return g.fs, nil
	}

	// Pull the latest changes from the Git repository.
	w, err := g.gitRepository.Worktree()
	if err != nil {
		return nil, err
	}
	logrus.Debug("Pulling")

	pullOptions := &git.PullOptions{
		Auth: g.Auth,
	}
	if g.Branch != "" {
		pullOptions = &git.PullOptions{
			ReferenceName: plumbing.NewBranchReferenceName(g.Branch),
			Force:         true,
			SingleBranch:  true,
			Auth:          g.Auth,
		}
	}

	err = w.PullContext(ctx, pullOptions)
	switch {
	case errors.Is(err, git.NoErrAlreadyUpToDate):
		logrus.Debug("Already up to date")
	case err != nil:
		return nil, err
	default:
		logrus.Debug("Pulled")
	}
	return g.fs, nil
}

package ini

import (
	"context"
	"io"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
)

// Opener opens the files a Loader reads: the entry file and every include.
type Opener interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, name string) (io.ReadCloser, error)

// Open calls f(ctx, name).
func (f OpenerFunc) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	return f(ctx, name)
}

// FilesystemOpener reads files from a billy filesystem, e.g. an in-memory one
// or the worktree of a cloned repository.
func FilesystemOpener(fs billy.Filesystem) Opener {
	return OpenerFunc(func(_ context.Context, name string) (io.ReadCloser, error) {
		return fs.Open(name)
	})
}

// LocalOpener reads files from the local disk. Relative names are relative to
// the working directory, like uWSGI does.
func LocalOpener() Opener {
	fs := osfs.New("/")
	return OpenerFunc(func(_ context.Context, name string) (io.ReadCloser, error) {
		abs, err := filepath.Abs(name)
		if err != nil {
			return nil, err
		}
		return fs.Open(abs)
	})
}

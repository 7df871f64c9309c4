// Command uwsgiconf resolves a uWSGI ini deployment configuration, includes
// and placeholders included, and prints, writes or serves the result.
//
//	uwsgiconf -ini deploy/uwsgi/marvin.ini:production -format env
//	uwsgiconf -ini deploy/uwsgi/marvin.ini -validate -out /etc/uwsgi/marvin.ini
//	uwsgiconf -ini deploy/uwsgi/marvin.ini -serve :8080 -watch
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/renameio/v2"
	"github.com/sirupsen/logrus"

	"github.com/sardine-ai/go-uwsgi-config/ini"
	"github.com/sardine-ai/go-uwsgi-config/model"
	"github.com/sardine-ai/go-uwsgi-config/render"
	"github.com/sardine-ai/go-uwsgi-config/server"
	"github.com/sardine-ai/go-uwsgi-config/source"
)

type options struct {
	spec     string
	repoType string
	name     string
	url      string
	branch   string
	bucket   string
	region   string
	endpoint string
	apiKey   string
	format   string
	out      string
	validate bool
	strict   bool
	serve    string
	authKey  string
	refresh  time.Duration
	watch    bool
	logLevel string
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	o := &options{}
	fs := flag.NewFlagSet("uwsgiconf", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.spec, "ini", "", "entry file and optional group, file[:group]")
	fs.StringVar(&o.repoType, "repo_type", "fs", "repository type: fs, git, http, s3 or gcs")
	fs.StringVar(&o.name, "name", "", "repository name served by -serve, defaults to the entry file name")
	fs.StringVar(&o.url, "url", "", "git repository URL, or base URL for http")
	fs.StringVar(&o.branch, "branch", "", "git branch")
	fs.StringVar(&o.bucket, "bucket", "", "s3 or gcs bucket")
	fs.StringVar(&o.region, "region", "", "s3 region")
	fs.StringVar(&o.endpoint, "endpoint", "", "s3 compatible endpoint")
	fs.StringVar(&o.apiKey, "api_key", "", "X-API-Key sent to an http repository")
	fs.StringVar(&o.format, "format", "ini", "output format: ini, json, yaml or env")
	fs.StringVar(&o.out, "out", "", "write the output atomically to this file instead of stdout")
	fs.BoolVar(&o.validate, "validate", false, "validate the group as a uWSGI deployment")
	fs.BoolVar(&o.strict, "strict", false, "fail on placeholders naming undefined keys")
	fs.StringVar(&o.serve, "serve", "", "serve the resolved configuration on this address")
	fs.StringVar(&o.authKey, "auth_key", "", "auth key for the server")
	fs.DurationVar(&o.refresh, "refresh", 30*time.Second, "refresh interval of the server")
	fs.BoolVar(&o.watch, "watch", false, "reload local files on change while serving")
	fs.StringVar(&o.logLevel, "log_level", "info", "log level")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if o.spec == "" {
		return nil, errors.New("-ini is required")
	}
	return o, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		logrus.WithError(err).Error("uwsgiconf failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	o, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	level, err := logrus.ParseLevel(o.logLevel)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)

	entry, group := ini.SplitSpec(o.spec)
	if group == "" {
		group = ini.DefaultGroup
	}
	repo, err := newRepository(o, entry)
	if err != nil {
		return err
	}

	if o.serve != "" {
		return serve(ctx, o, repo)
	}

	if err := repo.Refresh(); err != nil {
		return err
	}
	g, ok := repo.GetData(group)
	if !ok {
		return fmt.Errorf("%s: %w", o.spec, ini.ErrGroupNotFound)
	}
	if o.validate {
		if _, err := model.NewDeployment(g); err != nil {
			return fmt.Errorf("[%s] %w", group, err)
		}
	}

	format, err := render.ParseFormat(o.format)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := render.Group(&buf, g, format); err != nil {
		return err
	}
	if o.out == "" {
		_, err := stdout.Write(buf.Bytes())
		return err
	}
	if err := renameio.WriteFile(o.out, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", o.out, err)
	}
	logrus.WithFields(logrus.Fields{"group": group, "out": o.out}).Info("configuration written")
	return nil
}

// newRepository builds the repository selected by -repo_type. entry is a
// local path for fs, a path within the worktree for git, a URL or a path
// relative to -url for http and an object name for s3 and gcs.
func newRepository(o *options, entry string) (source.Repository, error) {
	name := o.name
	if name == "" {
		name = repositoryName(entry)
	}

	switch o.repoType {
	case "fs", "":
		return &source.FileRepository{Name: name, Path: entry, Strict: o.strict}, nil
	case "git":
		if o.url == "" {
			return nil, errors.New("-url is required for a git repository")
		}
		u, err := url.Parse(o.url)
		if err != nil {
			return nil, err
		}
		return &source.GitRepository{Name: name, URL: u, Path: entry, Branch: o.branch, Strict: o.strict}, nil
	case "http":
		u, err := url.Parse(entry)
		if err != nil {
			return nil, err
		}
		if o.url != "" {
			base, err := url.Parse(o.url)
			if err != nil {
				return nil, err
			}
			u = base.ResolveReference(u)
		}
		if !u.IsAbs() {
			return nil, errors.New("an http repository needs an absolute URL")
		}
		return &source.WebRepository{Name: name, URL: u, APIKey: o.apiKey, Strict: o.strict}, nil
	case "s3":
		if o.bucket == "" {
			return nil, errors.New("-bucket is required for an s3 repository")
		}
		return &source.AwsS3Repository{
			Name:       name,
			BucketName: o.bucket,
			ObjectName: entry,
			Region:     o.region,
			Endpoint:   o.endpoint,
			Strict:     o.strict,
		}, nil
	case "gcs":
		if o.bucket == "" {
			return nil, errors.New("-bucket is required for a gcs repository")
		}
		return &source.GcpStorageRepository{Name: name, BucketName: o.bucket, ObjectName: entry, Strict: o.strict}, nil
	}
	return nil, fmt.Errorf("unknown repository type %q", o.repoType)
}

// repositoryName is the base name of entry without its extension.
func repositoryName(entry string) string {
	base := path.Base(filepath.ToSlash(entry))
	return strings.TrimSuffix(base, path.Ext(base))
}

func serve(ctx context.Context, o *options, repo source.Repository) error {
	srv := server.NewServer(ctx, []source.Repository{repo}, o.refresh)
	srv.AuthKey = o.authKey

	if o.watch {
		fileRepo, ok := repo.(*source.FileRepository)
		if !ok {
			_ = srv.Shutdown()
			return errors.New("-watch needs a fs repository")
		}
		if err := fileRepo.Watch(ctx); err != nil {
			_ = srv.Shutdown()
			return err
		}
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Start(o.serve)
	}()

	select {
	case err := <-errc:
		srv.Stop()
		return err
	case <-ctx.Done():
		logrus.Info("shutting down")
		if err := srv.Shutdown(); err != nil {
			return err
		}
		return <-errc
	}
}

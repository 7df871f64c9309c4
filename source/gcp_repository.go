package source

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/sardine-ai/go-uwsgi-config/ini"
)

// GcpStorageRepository is a struct that implements the Repository interface for
// handling a configuration stored as ini objects within a GCS bucket.
// Includes are read from the same bucket, by object name.
type GcpStorageRepository struct {
	store
	Name          string          // Name of the configuration source
	BucketName    string          // Name of the GCS bucket
	ObjectName    string          // Name of the entry ini object
	Anonymous     bool            // Read a public bucket without credentials
	Strict        bool            // Fail on placeholders naming undefined keys
	Client        *storage.Client // Optional preconfigured client, built on first refresh if nil
	client        *storage.Client // Client in use, set once
	clientOnce    sync.Once       // Ensures client is initialized only once
	clientInitErr error           // Stores error from client initialization
}

// Refresh reads the entry object and its includes from the GCS bucket and
// resolves them.
func (g *GcpStorageRepository) Refresh() error {
	ctx := context.Background()

	g.clientOnce.Do(func() {
		if g.Client != nil {
			g.client = g.Client
			return
		}
		var opts []option.ClientOption
		if g.Anonymous {
			opts = append(opts, option.WithoutAuthentication())
		}
		g.client, g.clientInitErr = storage.NewClient(ctx, opts...)
	})
	if g.clientInitErr != nil {
		return g.clientInitErr
	}

	_, err := g.store.load(ctx, GCSOpener(g.client, g.BucketName), g.ObjectName, g.Strict)
	return err
}

// GetName returns the name of the configuration source.
func (g *GcpStorageRepository) GetName() string {
	return g.Name
}

// GCSOpener returns an ini.Opener reading objects from bucket. A leading slash
// in a name is ignored.
func GCSOpener(client *storage.Client, bucket string) ini.Opener {
	return ini.OpenerFunc(func(ctx context.Context, name string) (io.ReadCloser, error) {
		object := strings.TrimPrefix(name, "/")
		reader, err := client.Bucket(bucket).Object(object).NewReader(ctx)
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, &notExistError{name: "gs://" + bucket + "/" + object, err: err}
		}
		if err != nil {
			return nil, err
		}
		return reader, nil
	})
}

package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/sardine-ai/go-uwsgi-config/ini"
)

// AwsS3Repository is a struct that implements the Repository interface for
// handling a configuration stored as ini objects within an S3 bucket.
// Includes are read from the same bucket, by object key.
type AwsS3Repository struct {
	store
	Name            string     // Name of the configuration source
	BucketName      string     // Name of the S3 bucket
	ObjectName      string     // Key of the entry ini object
	Region          string     // Optional region, taken from the environment if empty
	Endpoint        string     // Optional endpoint of an S3 compatible service
	AccessKeyID     string     // Optional static credentials
	SecretAccessKey string     // Optional static credentials
	Strict          bool       // Fail on placeholders naming undefined keys
	Client          *s3.Client // Optional preconfigured client, built from the fields above if nil
	client          *s3.Client // Client in use, set once
	clientOnce      sync.Once  // Ensures client is initialized only once
	clientInitErr   error      // Stores error from client initialization
}

// Refresh reads the entry object and its includes from the S3 bucket and
// resolves them.
func (a *AwsS3Repository) Refresh() error {
	ctx := context.Background()

	a.clientOnce.Do(func() {
		if a.Client != nil {
			a.client = a.Client
			return
		}
		a.client, a.clientInitErr = a.newClient(ctx)
	})
	if a.clientInitErr != nil {
		return a.clientInitErr
	}

	_, err := a.store.load(ctx, S3Opener(a.client, a.BucketName), a.ObjectName, a.Strict)
	return err
}

func (a *AwsS3Repository) newClient(ctx context.Context) (*s3.Client, error) {
	var opts []func(*config.LoadOptions) error
	if a.Region != "" {
		opts = append(opts, config.WithRegion(a.Region))
	}
	if a.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(a.AccessKeyID, a.SecretAccessKey, "")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if a.Endpoint != "" {
			o.BaseEndpoint = aws.String(a.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// GetName returns the name of the configuration source.
func (a *AwsS3Repository) GetName() string {
	return a.Name
}

// S3Opener returns an ini.Opener reading object keys from bucket. A leading
// slash in a name is ignored, so "%d" of a key resolves within the bucket.
func S3Opener(client *s3.Client, bucket string) ini.Opener {
	return ini.OpenerFunc(func(ctx context.Context, name string) (io.ReadCloser, error) {
		key := strings.TrimPrefix(name, "/")
		result, err := client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			var noSuchKey *types.NoSuchKey
			var status interface{ HTTPStatusCode() int }
			if errors.As(err, &noSuchKey) || (errors.As(err, &status) && status.HTTPStatusCode() == 404) {
				return nil, &notExistError{name: "s3://" + bucket + "/" + key, err: err}
			}
			return nil, err
		}
		return result.Body, nil
	})
}

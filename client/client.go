package client

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sardine-ai/go-uwsgi-config/model"
	"github.com/sardine-ai/go-uwsgi-config/source"
)

var (
	// ErrGroupNotFound is returned when the repository has no such group.
	ErrGroupNotFound = errors.New("group not found")
	// ErrKeyNotFound is returned when the group has no such key.
	ErrKeyNotFound = errors.New("key not found")
)

type Client struct {
	Repository      source.Repository
	RefreshInterval time.Duration
	cancel          context.CancelFunc
	done            chan struct{}
}

// NewClient creates a new Client with the provided context, repository,
// and refresh interval. The repository is refreshed once before returning,
// and an error is returned if that first refresh fails. A background
// goroutine then refreshes it every refreshInterval until Close is called or
// ctx is canceled.
func NewClient(ctx context.Context, repository source.Repository, refreshInterval time.Duration) (*Client, error) {
	// Refresh the configuration data for the first time to ensure the
	// Client is initialized with the latest data before it is used.
	if err := repository.Refresh(); err != nil {
		logrus.WithError(err).Error("error refreshing repository")
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	client := &Client{
		Repository:      repository,
		RefreshInterval: refreshInterval,
		cancel:          cancel,
		done:            make(chan struct{}),
	}

	go func() {
		defer close(client.done)
		refresh(ctx, client)
	}()
	return client, nil
}

// refresh periodically refreshes the repository until ctx is canceled.
func refresh(ctx context.Context, client *Client) {
	ticker := time.NewTicker(client.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			err := client.Repository.Refresh()
			if err != nil {
				logrus.WithError(err).WithField("repository", client.Repository.GetName()).Error("error refreshing repository")
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close stops the background refresh goroutine and waits for it to return.
func (c *Client) Close() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
}

// GetGroup returns a copy of the resolved group with the given name.
func (c *Client) GetGroup(group string) (*model.Group, error) {
	g, ok := c.Repository.GetData(group)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, group)
	}
	return g, nil
}

// GetConfig decodes the group into data, a pointer to a struct with yaml tags.
func (c *Client) GetConfig(group string, data interface{}) error {
	g, err := c.GetGroup(group)
	if err != nil {
		return err
	}
	return g.Decode(data)
}

// GetConfigString returns the effective value of key in group.
func (c *Client) GetConfigString(group, key string) (string, error) {
	g, err := c.GetGroup(group)
	if err != nil {
		return "", err
	}
	value, ok := g.Get(key)
	if !ok {
		return "", fmt.Errorf("%w: [%s] %s", ErrKeyNotFound, group, key)
	}
	return value, nil
}

// GetConfigArrayOfStrings returns every value of key in group, in declaration order.
func (c *Client) GetConfigArrayOfStrings(group, key string) ([]string, error) {
	g, err := c.GetGroup(group)
	if err != nil {
		return nil, err
	}
	if !g.Has(key) {
		return nil, fmt.Errorf("%w: [%s] %s", ErrKeyNotFound, group, key)
	}
	return g.Values(key), nil
}

// GetConfigInt returns the effective value of key in group as an int.
func (c *Client) GetConfigInt(group, key string) (int, error) {
	value, err := c.GetConfigString(group, key)
	if err != nil {
		return 0, err
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("[%s] %s is not an int: %w", group, key, err)
	}
	return i, nil
}

// GetConfigBool returns the effective value of key in group as a bool, using
// the spellings uWSGI accepts for flags.
func (c *Client) GetConfigBool(group, key string) (bool, error) {
	value, err := c.GetConfigString(group, key)
	if err != nil {
		return false, err
	}
	b, err := model.ParseFlag(value)
	if err != nil {
		return false, fmt.Errorf("[%s] %s: %w", group, key, err)
	}
	return b, nil
}

// Environ returns the env entries of group, in declaration order.
func (c *Client) Environ(group string) ([]string, error) {
	g, err := c.GetGroup(group)
	if err != nil {
		return nil, err
	}
	return g.Environ(), nil
}

// Deployment decodes and validates group as a uWSGI deployment.
func (c *Client) Deployment(group string) (*model.Deployment, error) {
	g, err := c.GetGroup(group)
	if err != nil {
		return nil, err
	}
	return model.NewDeployment(g)
}

package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/sardine-ai/go-uwsgi-config/ini"
)

// WebRepository is a struct that implements the Repository interface for
// handling a configuration fetched from a remote HTTP endpoint (web URL).
// Includes are fetched from the same server, relative to the entry URL.
type WebRepository struct {
	store
	Name       string       // Name of the configuration source
	URL        *url.URL     // URL of the entry ini file
	APIKey     string       // Optional API key for X-API-Key header authentication
	HTTPClient *http.Client // HTTP client, http.DefaultClient if nil
	Strict     bool         // Fail on placeholders naming undefined keys
}

// GetName returns the name of the configuration source.
func (w *WebRepository) GetName() string {
	return w.Name
}

// Refresh fetches the entry file and its includes and resolves them.
func (w *WebRepository) Refresh() error {
	if w.URL == nil {
		return errors.New("web repository has no URL")
	}
	_, err := w.store.load(context.Background(), w.Opener(), w.URL.String(), w.Strict)
	if err != nil {
		logrus.WithError(err).WithField("url", w.URL.Redacted()).Debug("error loading url")
		return err
	}
	return nil
}

// Opener returns an ini.Opener fetching names relative to the entry URL.
func (w *WebRepository) Opener() ini.Opener {
	return ini.OpenerFunc(w.open)
}

func (w *WebRepository) open(ctx context.Context, name string) (io.ReadCloser, error) {
	ref, err := url.Parse(name)
	if err != nil {
		return nil, err
	}
	target := w.URL.ResolveReference(ref)

	// Create an HTTP request to fetch the ini file from the remote web URL.
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		logrus.Debug("error creating request")
		return nil, err
	}

	// Set X-API-Key header if API key is configured
	if w.APIKey != "" {
		request.Header.Set("X-API-Key", w.APIKey)
	}

	client := w.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(request)
	if err != nil {
		logrus.Debug("error doing request")
		return nil, err
	}
	if resp.StatusCode == http.StatusOK {
		return resp.Body, nil
	}

	if err := resp.Body.Close(); err != nil {
		logrus.WithError(err).Debug("error closing response body")
	}
	statusErr := fmt.Errorf("unexpected status %s", resp.Status)
	if resp.StatusCode == http.StatusNotFound {
		return nil, &notExistError{name: target.Redacted(), err: statusErr}
	}
	return nil, fmt.Errorf("%s: %w", target.Redacted(), statusErr)
}

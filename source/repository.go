package source

import (
	"context"
	"io/fs"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/sardine-ai/go-uwsgi-config/ini"
	"github.com/sardine-ai/go-uwsgi-config/model"
)

// Repository is a source of a resolved uWSGI configuration document.
type Repository interface {
	GetName() string
	GetData(groupName string) (group *model.Group, isPresent bool)
	GetRawData() []byte
	Refresh() error
}

// store holds the last resolved document of a repository.
type store struct {
	sync.RWMutex                 // RWMutex to synchronize access to data during refresh
	data         *model.Document // Resolved configuration groups
	rawData      []byte          // Resolved document serialized as ini
}

// GetData returns a copy of the resolved group with the given name.
func (s *store) GetData(groupName string) (group *model.Group, isPresent bool) {
	s.RLock()
	defer s.RUnlock()
	if s.data == nil {
		return nil, false
	}
	g, ok := s.data.Group(groupName)
	if !ok {
		return nil, false
	}
	return g.Clone(), true
}

// GetRawData returns the resolved document serialized as ini, without includes.
func (s *store) GetRawData() []byte {
	s.RLock()
	defer s.RUnlock()
	return s.rawData
}

// Groups returns the names of the resolved groups.
func (s *store) Groups() []string {
	s.RLock()
	defer s.RUnlock()
	if s.data == nil {
		return nil
	}
	return s.data.Names()
}

// load resolves entry through opener and swaps the result in. On error the
// previous document is kept.
func (s *store) load(ctx context.Context, opener ini.Opener, entry string, strict bool) (*model.Document, error) {
	loader := ini.NewLoader(opener)
	loader.Strict = strict

	// Resolve outside lock to prevent data corruption on error
	doc, err := loader.LoadDocument(ctx, entry)
	if err != nil {
		return nil, err
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	raw, err := ini.Marshal(doc)
	if err != nil {
		return nil, err
	}

	// Only lock for atomic data swap
	s.Lock()
	s.data = doc
	s.rawData = raw
	s.Unlock()

	logrus.WithFields(logrus.Fields{"entry": entry, "groups": doc.Names()}).Debug("configuration loaded")
	return doc, nil
}

// notExistError marks a missing remote object so callers can match it with
// errors.Is(err, fs.ErrNotExist).
type notExistError struct {
	name string
	err  error
}

func (e *notExistError) Error() string {
	return e.name + ": " + e.err.Error()
}

func (e *notExistError) Unwrap() []error {
	return []error{fs.ErrNotExist, e.err}
}

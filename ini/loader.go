package ini

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/sardine-ai/go-uwsgi-config/model"
)

// DefaultMaxDepth bounds include nesting when Loader.MaxDepth is zero.
const DefaultMaxDepth = 16

// Loader resolves groups: it follows includes, expands magic variables and
// environment references, and substitutes placeholders.
type Loader struct {
	Opener    Opener                      // Opener used for the entry file and includes
	LookupEnv func(string) (string, bool) // Environment used by $(NAME), os.LookupEnv if nil
	MaxDepth  int                         // Maximum include nesting, DefaultMaxDepth if zero
	Strict    bool                        // Fail on placeholders naming undefined keys
}

// NewLoader returns a Loader reading through opener.
func NewLoader(opener Opener) *Loader {
	return &Loader{Opener: opener}
}

// loadState is shared by every include of one Load call.
type loadState struct {
	files map[string]*File
	stack []string
}

func newLoadState() *loadState {
	return &loadState{files: make(map[string]*File)}
}

// Load resolves one group given a "file[:group]" spec. The group defaults to
// DefaultGroup.
func (l *Loader) Load(ctx context.Context, spec string) (*model.Group, error) {
	name, group := SplitSpec(spec)
	if group == "" {
		group = DefaultGroup
	}
	return l.load(ctx, newLoadState(), name, group)
}

// LoadDocument resolves every group declared in the file name.
func (l *Loader) LoadDocument(ctx context.Context, name string) (*model.Document, error) {
	st := newLoadState()
	f, err := l.read(ctx, st, name)
	if err != nil {
		return nil, err
	}
	doc := model.NewDocument(name)
	for _, s := range f.Sections {
		g, err := l.load(ctx, st, name, s.Name)
		if err != nil {
			return nil, err
		}
		doc.PutGroup(g)
	}
	return doc, nil
}

func (l *Loader) load(ctx context.Context, st *loadState, name, group string) (*model.Group, error) {
	assembled := model.NewGroup(group)
	if err := l.include(ctx, st, assembled, name, group, 0); err != nil {
		return nil, err
	}
	resolved, err := Substitute(assembled, l.Strict)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", JoinSpec(name, group), err)
	}
	logrus.WithFields(logrus.Fields{
		"file":     name,
		"group":    group,
		"keys":     resolved.Len(),
		"includes": len(resolved.Includes()),
	}).Debug("resolved group")
	return resolved, nil
}

// include merges the entries of name:group into dst, in line order.
func (l *Loader) include(ctx context.Context, st *loadState, dst *model.Group, name, group string, depth int) error {
	spec := JoinSpec(name, group)
	for _, s := range st.stack {
		if s == spec {
			return fmt.Errorf("%w: %s -> %s", ErrIncludeCycle, strings.Join(st.stack, " -> "), spec)
		}
	}
	if depth > l.maxDepth() {
		return fmt.Errorf("%w: %s", ErrIncludeDepth, spec)
	}

	f, err := l.read(ctx, st, name)
	if err != nil {
		return err
	}
	section, ok := f.Section(group)
	if !ok {
		return fmt.Errorf("%w: [%s] in %s", ErrGroupNotFound, group, name)
	}

	st.stack = append(st.stack, spec)
	defer func() { st.stack = st.stack[:len(st.stack)-1] }()

	vars := fileVars{name: name, group: group}
	for _, e := range section.Entries {
		value := expandFile(e.Value, vars, l.lookupEnv())
		if e.Key != IncludeKey {
			dst.Add(e.Key, value)
			continue
		}

		// The include target may use placeholders defined above it.
		target, err := newResolver(dst, l.Strict).expand(value)
		if err != nil {
			return fmt.Errorf("%s:%d: %w", name, e.Line, err)
		}
		incName, incGroup := SplitSpec(target)
		if incGroup == "" {
			incGroup = DefaultGroup
		}
		logrus.WithFields(logrus.Fields{"from": spec, "include": JoinSpec(incName, incGroup)}).Debug("including")
		dst.AddInclude(JoinSpec(incName, incGroup))
		if err := l.include(ctx, st, dst, incName, incGroup, depth+1); err != nil {
			return fmt.Errorf("%s:%d: include %s: %w", name, e.Line, target, err)
		}
	}
	return nil
}

func (l *Loader) read(ctx context.Context, st *loadState, name string) (*File, error) {
	if f, ok := st.files[name]; ok {
		return f, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rc, err := l.Opener.Open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer func() {
		if err := rc.Close(); err != nil {
			logrus.WithError(err).Debug("error closing file")
		}
	}()
	f, err := Parse(name, rc)
	if err != nil {
		return nil, err
	}
	st.files[name] = f
	return f, nil
}

func (l *Loader) maxDepth() int {
	if l.MaxDepth > 0 {
		return l.MaxDepth
	}
	return DefaultMaxDepth
}

func (l *Loader) lookupEnv() func(string) (string, bool) {
	if l.LookupEnv != nil {
		return l.LookupEnv
	}
	return os.LookupEnv
}

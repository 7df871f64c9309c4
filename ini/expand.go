package ini

import (
	"fmt"
	"path"
	"strings"

	"github.com/sardine-ai/go-uwsgi-config/model"
)

// fileVars holds the magic variables of the file being read.
type fileVars struct {
	name  string
	group string
}

func (v fileVars) lookup(c byte) (string, bool) {
	base := path.Base(v.name)
	ext := path.Ext(base)
	switch c {
	case 'd':
		return dirOf(v.name), true
	case 'p':
		return v.name, true
	case 's':
		return base, true
	case 'e':
		return strings.TrimPrefix(ext, "."), true
	case 'n':
		return strings.TrimSuffix(base, ext), true
	case 'c':
		dir := strings.TrimSuffix(dirOf(v.name), "/")
		return dir[strings.LastIndexByte(dir, '/')+1:], true
	case 'x':
		return JoinSpec(v.name, v.group), true
	}
	return "", false
}

// dirOf returns the directory of name with a trailing slash, so that "%dbase.ini"
// names a sibling file. Names are slash separated paths, object keys or URLs.
// A bare relative name has an empty directory.
func dirOf(name string) string {
	return name[:strings.LastIndexByte(name, '/')+1]
}

// expandFile replaces magic variables and $(NAME) environment references.
// %% and %(name) are left for the placeholder pass.
func expandFile(value string, vars fileVars, lookupEnv func(string) (string, bool)) string {
	if !strings.ContainsAny(value, "%$") {
		return value
	}
	var b strings.Builder
	for i := 0; i < len(value); i++ {
		c := value[i]
		if i+1 >= len(value) {
			b.WriteByte(c)
			continue
		}
		next := value[i+1]
		switch {
		case c == '%' && next == '%':
			b.WriteString("%%")
			i++
		case c == '%':
			if v, ok := vars.lookup(next); ok {
				b.WriteString(v)
				i++
				continue
			}
			b.WriteByte(c)
		case c == '$' && next == '(':
			end := strings.IndexByte(value[i+2:], ')')
			if end < 0 {
				b.WriteString(value[i:])
				return b.String()
			}
			if v, ok := lookupEnv(value[i+2 : i+2+end]); ok {
				b.WriteString(v)
			}
			i += 2 + end
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// resolver substitutes %(name) placeholders against the effective values of a
// group. Resolved values are memoized. Names without a value are collected in
// missing, including those inherited through a referenced key.
type resolver struct {
	group       *model.Group
	strict      bool
	cache       map[string]string
	cacheMissed map[string][]string
	visiting    map[string]bool
	missing     []string
}

func newResolver(g *model.Group, strict bool) *resolver {
	return &resolver{
		group:       g,
		strict:      strict,
		cache:       make(map[string]string),
		cacheMissed: make(map[string][]string),
		visiting:    make(map[string]bool),
	}
}

func (r *resolver) value(name string) (string, bool, error) {
	if v, ok := r.cache[name]; ok {
		r.missing = append(r.missing, r.cacheMissed[name]...)
		return v, true, nil
	}
	raw, ok := r.group.Get(name)
	if !ok {
		return "", false, nil
	}
	if r.visiting[name] {
		return "", false, fmt.Errorf("%w: %%(%s)", ErrPlaceholderCycle, name)
	}
	r.visiting[name] = true
	start := len(r.missing)
	v, err := r.expand(raw)
	delete(r.visiting, name)
	if err != nil {
		return "", false, err
	}
	r.cache[name] = v
	r.cacheMissed[name] = append([]string(nil), r.missing[start:]...)
	return v, true, nil
}

func (r *resolver) expand(s string) (string, error) {
	if !strings.Contains(s, "%") {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '%' || i+1 >= len(s) {
			b.WriteByte(s[i])
			continue
		}
		switch s[i+1] {
		case '%':
			b.WriteByte('%')
			i++
		case '(':
			end := strings.IndexByte(s[i+2:], ')')
			if end < 0 {
				b.WriteString(s[i:])
				return b.String(), nil
			}
			name := s[i+2 : i+2+end]
			v, ok, err := r.value(name)
			if err != nil {
				return "", err
			}
			switch {
			case ok:
				b.WriteString(v)
			case r.strict:
				return "", fmt.Errorf("%w: %%(%s)", ErrUnresolvedPlaceholder, name)
			default:
				r.missing = append(r.missing, name)
				b.WriteString(s[i : i+3+end])
			}
			i += 2 + end
		default:
			b.WriteByte('%')
		}
	}
	return b.String(), nil
}

// Substitute returns a copy of g with every %(name) placeholder resolved
// against the effective values of g. Unknown names are kept literally unless
// strict is set. The copy is marked resolved, with the names kept literally.
func Substitute(g *model.Group, strict bool) (*model.Group, error) {
	r := newResolver(g, strict)
	out := model.NewGroup(g.Name)
	unresolved := map[string][]string{}
	for _, p := range g.Parameters() {
		values := make([]string, 0, len(p.Values))
		r.missing = r.missing[:0]
		for _, v := range p.Values {
			expanded, err := r.expand(v)
			if err != nil {
				return nil, fmt.Errorf("[%s] %s: %w", g.Name, p.Key, err)
			}
			values = append(values, expanded)
		}
		out.Set(p.Key, values...)
		if len(r.missing) > 0 {
			unresolved[p.Key] = append([]string(nil), r.missing...)
		}
	}
	for _, inc := range g.Includes() {
		out.AddInclude(inc)
	}
	out.MarkResolved(unresolved)
	return out, nil
}

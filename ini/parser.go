// Package ini reads, resolves and writes uWSGI-style ini configuration files.
//
// A file is a list of [group] sections holding "key = value" lines. A key may
// be declared more than once, its values accumulate in order. The resolver
// understands the "ini = path[:group]" include directive, the per-file magic
// variables (%d, %p, %s, %e, %n, %c, %x), $(NAME) environment references and
// %(name) placeholders that refer to other keys of the same group.
package ini

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/sardine-ai/go-uwsgi-config/model"
)

// DefaultGroup is the group read when a spec does not name one.
const DefaultGroup = "uwsgi"

// IncludeKey is the key of the include directive.
const IncludeKey = "ini"

// Entry is one key/value line of a section.
type Entry struct {
	Key   string
	Value string
	Line  int
}

// Section is a [group] of a parsed file with its entries in line order.
// A group header repeated in the same file appends to the same section.
type Section struct {
	Name    string
	Line    int
	Entries []Entry
}

// File is a parsed ini file before any resolution.
type File struct {
	Name     string
	Sections []*Section
}

// Section returns the section with the given name.
func (f *File) Section(name string) (*Section, bool) {
	for _, s := range f.Sections {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// Document converts the file into a model document without resolving anything.
func (f *File) Document() *model.Document {
	doc := model.NewDocument(f.Name)
	for _, s := range f.Sections {
		g := doc.AddGroup(s.Name)
		for _, e := range s.Entries {
			g.Add(e.Key, e.Value)
		}
	}
	return doc
}

var bom = []byte{0xEF, 0xBB, 0xBF}

// Parse reads an ini file. name is only used in error messages.
func Parse(name string, r io.Reader) (*File, error) {
	f := &File{Name: name}
	var current *Section

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if lineNo == 1 {
			raw = bytes.TrimPrefix(raw, bom)
		}
		line := strings.TrimSpace(string(raw))
		if line == "" || line[0] == '#' || line[0] == ';' {
			continue
		}

		if line[0] == '[' {
			if line[len(line)-1] != ']' {
				return nil, &ParseError{File: name, Line: lineNo, Msg: "unterminated group header"}
			}
			groupName := strings.TrimSpace(line[1 : len(line)-1])
			if groupName == "" {
				return nil, &ParseError{File: name, Line: lineNo, Msg: "empty group name"}
			}
			if s, ok := f.Section(groupName); ok {
				current = s
				continue
			}
			current = &Section{Name: groupName, Line: lineNo}
			f.Sections = append(f.Sections, current)
			continue
		}

		if current == nil {
			return nil, &ParseError{File: name, Line: lineNo, Msg: "parameter outside of a group"}
		}

		key, value, found := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if !found {
			// A bare key is a flag.
			value = "true"
		}
		if key == "" {
			return nil, &ParseError{File: name, Line: lineNo, Msg: "empty key"}
		}
		current.Entries = append(current.Entries, Entry{Key: key, Value: value, Line: lineNo})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return f, nil
}

// Unmarshal parses data into a document without resolving includes or
// placeholders.
func Unmarshal(data []byte) (*model.Document, error) {
	f, err := Parse("", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return f.Document(), nil
}

// Package render serializes a resolved group for consumers that do not read
// uWSGI ini files.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sardine-ai/go-uwsgi-config/ini"
	"github.com/sardine-ai/go-uwsgi-config/model"
)

// Format is an output encoding for a resolved group.
type Format string

const (
	INI  Format = "ini"
	JSON Format = "json"
	YAML Format = "yaml"
	Env  Format = "env"
)

// Formats lists the supported formats.
var Formats = []Format{INI, JSON, YAML, Env}

// ParseFormat returns the format named s. An empty string selects INI.
func ParseFormat(s string) (Format, error) {
	if s == "" {
		return INI, nil
	}
	for _, f := range Formats {
		if strings.EqualFold(s, string(f)) {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown format %q", s)
}

// ContentType is the media type served for f.
func (f Format) ContentType() string {
	switch f {
	case JSON:
		return "application/json"
	case YAML:
		return "application/yaml"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Group writes g to w in format f. Keys with a single value render as a
// scalar and repeated keys as a list. The env format writes one NAME=value
// line per env entry of the group.
func Group(w io.Writer, g *model.Group, f Format) error {
	switch f {
	case INI:
		return ini.WriteGroup(w, g)
	case JSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(g.Map())
	case YAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(g.Map()); err != nil {
			return err
		}
		return enc.Close()
	case Env:
		for _, entry := range g.Environ() {
			if strings.ContainsAny(entry, "\r\n") {
				return fmt.Errorf("env entry %q: %w", entry, ini.ErrInvalidValue)
			}
			if _, err := io.WriteString(w, entry+"\n"); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unknown format %q", f)
}

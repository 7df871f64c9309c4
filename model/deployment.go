package model

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

var (
	dottedPath = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)
	identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	envName    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	fileMode   = regexp.MustCompile(`^[0-7]{3,4}$`)
)

// Deployment is the typed view of a uWSGI launch group.
type Deployment struct {
	Callable    string     `yaml:"callable" json:"callable"`         // Application entry point object
	WWWDir      string     `yaml:"wwwdir" json:"wwwdir"`             // Web application root
	SocketDir   string     `yaml:"socketdir" json:"socketdir"`       // Directory holding the server socket
	Tag         string     `yaml:"tag" json:"tag"`                   // Free-form label used in derived names
	Module      string     `yaml:"module" json:"module"`             // Dotted import path of the application module
	Base        string     `yaml:"base" json:"base"`                 // Base package name
	AppName     string     `yaml:"app_name" json:"app_name"`         // Derived application name
	Env         StringList `yaml:"env" json:"env"`                   // NAME=value entries for the launched process
	Socket      StringList `yaml:"socket" json:"socket"`             // Socket paths or addresses, one per bound socket
	ChmodSocket string     `yaml:"chmod-socket" json:"chmod-socket"` // Socket permission bits, octal
	Home        string     `yaml:"home" json:"home"`                 // Virtualenv
	LogTo       string     `yaml:"logto" json:"logto"`               // Log file
	Master      Flag       `yaml:"master" json:"master"`
	Vacuum      Flag       `yaml:"vacuum" json:"vacuum"`
	DieOnTerm   Flag       `yaml:"die-on-term" json:"die-on-term"`
	Processes   Count      `yaml:"processes" json:"processes"`
	Threads     Count      `yaml:"threads" json:"threads"`
}

// NewDeployment decodes and validates g.
func NewDeployment(g *Group) (*Deployment, error) {
	var d Deployment
	if err := g.Decode(&d); err != nil {
		return nil, fmt.Errorf("decode group %q: %w", g.Name, err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Validate checks the deployment fields.
func (d *Deployment) Validate() error {
	return validation.ValidateStruct(d,
		validation.Field(&d.Module, validation.Required, validation.Match(dottedPath)),
		validation.Field(&d.Callable, validation.Required, validation.Match(identifier)),
		validation.Field(&d.WWWDir, validation.By(absolutePath)),
		validation.Field(&d.SocketDir, validation.By(absolutePath)),
		validation.Field(&d.Home, validation.By(absolutePath)),
		validation.Field(&d.AppName, validation.By(noPlaceholders)),
		validation.Field(&d.Socket, validation.Each(validation.By(noPlaceholders))),
		validation.Field(&d.ChmodSocket, validation.Match(fileMode)),
		validation.Field(&d.Env, validation.Each(validation.By(envEntry))),
		validation.Field(&d.Processes, validation.Min(0)),
		validation.Field(&d.Threads, validation.Min(0)),
	)
}

// Environment returns the env entries as a map. Later entries win.
func (d *Deployment) Environment() map[string]string {
	env := make(map[string]string, len(d.Env))
	for _, entry := range d.Env {
		name, value, ok := SplitEnv(entry)
		if !ok {
			continue
		}
		env[name] = value
	}
	return env
}

// SplitEnv splits a NAME=value entry.
func SplitEnv(entry string) (name, value string, ok bool) {
	name, value, ok = strings.Cut(entry, "=")
	if !ok || !envName.MatchString(name) {
		return "", "", false
	}
	return name, value, true
}

func absolutePath(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if !path.IsAbs(s) {
		return validation.NewError("validation_absolute_path", "must be an absolute path")
	}
	return noPlaceholders(s)
}

func noPlaceholders(value interface{}) error {
	s, _ := value.(string)
	if names := Placeholders(s); len(names) > 0 {
		return validation.NewError("validation_unresolved_placeholder",
			fmt.Sprintf("placeholder %%(%s) was not substituted", names[0]))
	}
	return nil
}

func envEntry(value interface{}) error {
	s, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}
	if _, _, ok := SplitEnv(s); !ok {
		return validation.NewError("validation_env_entry", "must be in NAME=value format")
	}
	return nil
}

// Flag is a boolean option. It accepts the spellings uWSGI accepts:
// true/false, yes/no, on/off and 1/0.
type Flag bool

// UnmarshalYAML implements yaml.Unmarshaler.
func (f *Flag) UnmarshalYAML(value *yaml.Node) error {
	b, err := ParseFlag(effective(value).Value)
	if err != nil {
		return err
	}
	*f = Flag(b)
	return nil
}

// ParseFlag parses a boolean option value.
func ParseFlag(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "on", "y":
		return true, nil
	case "no", "off", "n", "":
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid flag %q", s)
	}
	return b, nil
}

// Count is a numeric option. A repeated key keeps its last value.
type Count int

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *Count) UnmarshalYAML(value *yaml.Node) error {
	var i int
	if err := effective(value).Decode(&i); err != nil {
		return err
	}
	*c = Count(i)
	return nil
}

// effective returns the node of the effective value: the last item of a
// repeated key, or value itself.
func effective(value *yaml.Node) *yaml.Node {
	if value.Kind == yaml.SequenceNode && len(value.Content) > 0 {
		return value.Content[len(value.Content)-1]
	}
	return value
}

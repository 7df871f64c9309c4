package model

import (
	"gopkg.in/yaml.v3"
)

// EnvKey is the repeatable key whose values are NAME=value environment entries.
const EnvKey = "env"

// Parameter is a key together with every value declared for it, in declaration order.
type Parameter struct {
	Key    string   // Key as written in the file, case-sensitive
	Values []string // Values in declaration order, never empty
}

// Value returns the effective value of the parameter, which is the last one declared.
func (p *Parameter) Value() string {
	if len(p.Values) == 0 {
		return ""
	}
	return p.Values[len(p.Values)-1]
}

// Group is a named, ordered set of parameters, e.g. the [uwsgi] section of a file.
// Keys keep the order of their first declaration. Declaring a key again appends
// to its values instead of replacing them.
type Group struct {
	Name     string
	params   []*Parameter
	index    map[string]int
	includes []string

	// unresolved is set once placeholders were substituted. It maps a key to
	// the placeholder names left literal in its values.
	unresolved map[string][]string
}

// NewGroup returns an empty group with the given name.
func NewGroup(name string) *Group {
	return &Group{Name: name, index: make(map[string]int)}
}

// Add appends value to key, creating the parameter on first use.
func (g *Group) Add(key, value string) {
	if g.index == nil {
		g.index = make(map[string]int)
	}
	if i, ok := g.index[key]; ok {
		g.params[i].Values = append(g.params[i].Values, value)
		return
	}
	g.index[key] = len(g.params)
	g.params = append(g.params, &Parameter{Key: key, Values: []string{value}})
}

// Set replaces every value of key. The key keeps its original position.
func (g *Group) Set(key string, values ...string) {
	if len(values) == 0 {
		g.Delete(key)
		return
	}
	if i, ok := g.index[key]; ok {
		g.params[i].Values = append([]string(nil), values...)
		return
	}
	for _, v := range values {
		g.Add(key, v)
	}
}

// Delete removes key and all its values.
func (g *Group) Delete(key string) {
	i, ok := g.index[key]
	if !ok {
		return
	}
	g.params = append(g.params[:i], g.params[i+1:]...)
	delete(g.index, key)
	for j := i; j < len(g.params); j++ {
		g.index[g.params[j].Key] = j
	}
}

// Has reports whether key is declared in the group.
func (g *Group) Has(key string) bool {
	_, ok := g.index[key]
	return ok
}

// Get returns the effective (last declared) value of key.
func (g *Group) Get(key string) (string, bool) {
	i, ok := g.index[key]
	if !ok {
		return "", false
	}
	return g.params[i].Value(), true
}

// Values returns a copy of every value declared for key.
func (g *Group) Values(key string) []string {
	i, ok := g.index[key]
	if !ok {
		return nil
	}
	return append([]string(nil), g.params[i].Values...)
}

// Keys returns the keys in first-declaration order.
func (g *Group) Keys() []string {
	keys := make([]string, 0, len(g.params))
	for _, p := range g.params {
		keys = append(keys, p.Key)
	}
	return keys
}

// Parameters returns the parameters in first-declaration order. The returned
// parameters are copies.
func (g *Group) Parameters() []Parameter {
	out := make([]Parameter, 0, len(g.params))
	for _, p := range g.params {
		out = append(out, Parameter{Key: p.Key, Values: append([]string(nil), p.Values...)})
	}
	return out
}

// Len returns the number of distinct keys.
func (g *Group) Len() int {
	return len(g.params)
}

// Environ returns the env values in declaration order.
func (g *Group) Environ() []string {
	return g.Values(EnvKey)
}

// AddInclude records a file that was merged into the group.
func (g *Group) AddInclude(spec string) {
	g.includes = append(g.includes, spec)
}

// Includes returns the include specs merged into the group, in merge order.
func (g *Group) Includes() []string {
	return append([]string(nil), g.includes...)
}

// MarkResolved records that the placeholders of the group were substituted.
// unresolved lists, per key, the names that had no value and were kept as
// written.
func (g *Group) MarkResolved(unresolved map[string][]string) {
	g.unresolved = make(map[string][]string, len(unresolved))
	for k, names := range unresolved {
		g.unresolved[k] = append([]string(nil), names...)
	}
}

// Resolved reports whether MarkResolved was called. The values of a resolved
// group are final: a "%(" in them is literal text.
func (g *Group) Resolved() bool {
	return g.unresolved != nil
}

// Unresolved returns the placeholder names left literal in the values of key.
func (g *Group) Unresolved(key string) []string {
	return append([]string(nil), g.unresolved[key]...)
}

// Clone returns a deep copy of the group.
func (g *Group) Clone() *Group {
	c := NewGroup(g.Name)
	for _, p := range g.params {
		for _, v := range p.Values {
			c.Add(p.Key, v)
		}
	}
	c.includes = append([]string(nil), g.includes...)
	if g.unresolved != nil {
		c.MarkResolved(g.unresolved)
	}
	return c
}

// Map returns the group as a plain map. Keys with a single value map to a
// string, repeated keys map to a []string.
func (g *Group) Map() map[string]interface{} {
	m := make(map[string]interface{}, len(g.params))
	for _, p := range g.params {
		if len(p.Values) == 1 {
			m[p.Key] = p.Values[0]
			continue
		}
		m[p.Key] = append([]string(nil), p.Values...)
	}
	return m
}

// Decode stores the group into out, a pointer to a struct with yaml tags or a
// map. Values are decoded as untagged scalars so "true" fills a bool and "4" an
// int. Repeatable keys should decode into a StringList.
func (g *Group) Decode(out interface{}) error {
	return g.Node().Decode(out)
}

// Node returns the group as a yaml mapping node.
func (g *Group) Node() *yaml.Node {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, p := range g.params {
		key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: p.Key}
		var value *yaml.Node
		if len(p.Values) == 1 {
			value = &yaml.Node{Kind: yaml.ScalarNode, Value: p.Values[0]}
		} else {
			value = &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
			for _, v := range p.Values {
				value.Content = append(value.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: v})
			}
		}
		node.Content = append(node.Content, key, value)
	}
	return node
}

// StringList decodes from either a single scalar or a sequence of scalars.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *StringList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*l = StringList{value.Value}
		return nil
	}
	var list []string
	if err := value.Decode(&list); err != nil {
		return err
	}
	*l = list
	return nil
}

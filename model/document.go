package model

// Document is the ordered list of groups declared in a configuration file.
type Document struct {
	Name   string // Name of the file the document was read from, if any
	groups []*Group
	index  map[string]int
}

// NewDocument returns an empty document.
func NewDocument(name string) *Document {
	return &Document{Name: name, index: make(map[string]int)}
}

// Group returns the group with the given name.
func (d *Document) Group(name string) (*Group, bool) {
	i, ok := d.index[name]
	if !ok {
		return nil, false
	}
	return d.groups[i], true
}

// AddGroup returns the group with the given name, appending an empty one if it
// does not exist yet.
func (d *Document) AddGroup(name string) *Group {
	if d.index == nil {
		d.index = make(map[string]int)
	}
	if i, ok := d.index[name]; ok {
		return d.groups[i]
	}
	g := NewGroup(name)
	d.index[name] = len(d.groups)
	d.groups = append(d.groups, g)
	return g
}

// PutGroup stores g, replacing a group of the same name in place.
func (d *Document) PutGroup(g *Group) {
	if d.index == nil {
		d.index = make(map[string]int)
	}
	if i, ok := d.index[g.Name]; ok {
		d.groups[i] = g
		return
	}
	d.index[g.Name] = len(d.groups)
	d.groups = append(d.groups, g)
}

// Groups returns the groups in declaration order.
func (d *Document) Groups() []*Group {
	return append([]*Group(nil), d.groups...)
}

// Names returns the group names in declaration order.
func (d *Document) Names() []string {
	names := make([]string, 0, len(d.groups))
	for _, g := range d.groups {
		names = append(names, g.Name)
	}
	return names
}

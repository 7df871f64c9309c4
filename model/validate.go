package model

import (
	"fmt"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var placeholderPattern = regexp.MustCompile(`%\(([^()]+)\)`)

// Placeholders returns the names referenced by %(name) tokens in value, in order.
func Placeholders(value string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(value, -1)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m[1])
	}
	return names
}

// Validate checks the parameter shape: a non-empty key and at least one value.
func (p Parameter) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Key, validation.Required),
		validation.Field(&p.Values, validation.Required, validation.Length(1, 0)),
	)
}

// Validate checks every parameter of the group and reports placeholders that
// are still present although the key they reference is defined in the group.
// For a resolved group only the placeholders recorded by substitution count,
// since its values may hold an escaped, literal "%(name)".
// The returned error is a validation.Errors keyed by parameter key.
func (g *Group) Validate() error {
	errs := validation.Errors{}
	if strings.TrimSpace(g.Name) == "" {
		errs["[group]"] = validation.NewError("validation_group_name", "group name cannot be blank")
	}
	for i, p := range g.params {
		key := p.Key
		if key == "" {
			key = fmt.Sprintf("#%d", i)
		}
		if err := p.Validate(); err != nil {
			errs[key] = err
			continue
		}
		if g.Resolved() {
			if err := g.substituted(p.Key); err != nil {
				errs[key] = err
			}
			continue
		}
		if err := validation.Validate(p.Values, validation.Each(validation.By(g.resolvedPlaceholders))); err != nil {
			errs[key] = err
		}
	}
	return errs.Filter()
}

func (g *Group) substituted(key string) error {
	for _, name := range g.unresolved[key] {
		if g.Has(name) {
			return unsubstituted(name)
		}
	}
	return nil
}

func unsubstituted(name string) error {
	return validation.NewError("validation_unresolved_placeholder",
		fmt.Sprintf("placeholder %%(%s) was not substituted", name))
}

func (g *Group) resolvedPlaceholders(value interface{}) error {
	s, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}
	for _, name := range Placeholders(s) {
		if g.Has(name) {
			return unsubstituted(name)
		}
	}
	return nil
}

// Validate checks every group of the document.
func (d *Document) Validate() error {
	errs := validation.Errors{}
	for _, g := range d.groups {
		if err := g.Validate(); err != nil {
			errs[g.Name] = err
		}
	}
	return errs.Filter()
}

package stack

import (
	"fmt"
)

// Ref names an attribute of another resource in the same definition.
type Ref struct {
	Resource string
	Attr     string
}

func (r Ref) String() string {
	return fmt.Sprintf("${%s.%s}", r.Resource, r.Attr)
}

// Value is either a literal or a reference resolved at apply time.
type Value struct {
	Literal string
	Ref     *Ref
}

func Lit(s string) Value {
	return Value{Literal: s}
}

func RefTo(resource, attr string) Value {
	return Value{Ref: &Ref{Resource: resource, Attr: attr}}
}

func (v Value) IsZero() bool {
	return v.Ref == nil && v.Literal == ""
}

func (v Value) String() string {
	if v.Ref != nil {
		return v.Ref.String()
	}
	return v.Literal
}

func (v Value) MarshalYAML() (interface{}, error) {
	return v.String(), nil
}

// Resolver turns a Value into its concrete string.
type Resolver interface {
	Resolve(v Value) (string, error)
}

// Attributes holds the attributes reported by created resources, keyed by logical name.
type Attributes map[string]map[string]string

func (a Attributes) Set(resource string, values map[string]string) {
	a[resource] = values
}

func (a Attributes) Resolve(v Value) (string, error) {
	if v.Ref == nil {
		return v.Literal, nil
	}
	values, ok := a[v.Ref.Resource]
	if !ok {
		return "", fmt.Errorf("resource %s has not been created", v.Ref.Resource)
	}
	value, ok := values[v.Ref.Attr]
	if !ok {
		return "", fmt.Errorf("resource %s has no attribute %s", v.Ref.Resource, v.Ref.Attr)
	}
	return value, nil
}

func refsOf(values ...Value) []Ref {
	var refs []Ref
	for _, v := range values {
		if v.Ref != nil {
			refs = append(refs, *v.Ref)
		}
	}
	return refs
}

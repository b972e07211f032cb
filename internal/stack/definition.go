package stack

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

var ErrInvalidDefinition = errors.New("invalid stack definition")

type Output struct {
	Key         string `yaml:"key"`
	Value       Value  `yaml:"value"`
	Description string `yaml:"description"`
}

// Definition is an ordered set of resources plus the outputs exported after apply.
// References are by logical name and must point to earlier resources.
type Definition struct {
	Name         string
	DeploymentID string
	Resources    []Resource
	Outputs      []Output
}

func (d *Definition) Add(name string, spec Spec) {
	d.Resources = append(d.Resources, Resource{Name: name, Spec: spec})
}

func (d *Definition) Output(key string, value Value, description string) {
	d.Outputs = append(d.Outputs, Output{Key: key, Value: value, Description: description})
}

func (d *Definition) Lookup(name string) (Resource, bool) {
	for _, r := range d.Resources {
		if r.Name == name {
			return r, true
		}
	}
	return Resource{}, false
}

// Validate checks the whole definition and reports every problem it finds.
func (d *Definition) Validate() error {
	var problems []error
	seen := make(map[string]Kind, len(d.Resources))

	checkRef := func(owner string, ref Ref) {
		kind, ok := seen[ref.Resource]
		if !ok {
			if _, later := d.Lookup(ref.Resource); later {
				problems = append(problems, fmt.Errorf("%s references %s before it is declared", owner, ref.Resource))
			} else {
				problems = append(problems, fmt.Errorf("%s references unknown resource %s", owner, ref.Resource))
			}
			return
		}
		if !HasAttribute(kind, ref.Attr) {
			problems = append(problems, fmt.Errorf("%s references unknown attribute %s of %s", owner, ref.Attr, ref.Resource))
		}
	}

	for _, r := range d.Resources {
		if r.Name == "" {
			problems = append(problems, errors.New("resource with empty logical name"))
			continue
		}
		if r.Spec == nil {
			problems = append(problems, fmt.Errorf("%s has no spec", r.Name))
			continue
		}
		if _, dup := seen[r.Name]; dup {
			problems = append(problems, fmt.Errorf("duplicate logical name %s", r.Name))
			continue
		}
		if _, known := kindAttributes[r.Kind()]; !known {
			problems = append(problems, fmt.Errorf("%s has unknown kind %s", r.Name, r.Kind()))
		}
		for _, ref := range r.Spec.Refs() {
			if ref.Resource == r.Name {
				problems = append(problems, fmt.Errorf("%s references itself", r.Name))
				continue
			}
			checkRef(r.Name, ref)
		}
		if err := r.Spec.Validate(); err != nil {
			problems = append(problems, fmt.Errorf("%s: %w", r.Name, err))
		}
		seen[r.Name] = r.Kind()
	}

	keys := make(map[string]bool, len(d.Outputs))
	for _, o := range d.Outputs {
		if keys[o.Key] {
			problems = append(problems, fmt.Errorf("duplicate output %s", o.Key))
		}
		keys[o.Key] = true
		if o.Value.Ref != nil {
			checkRef("output "+o.Key, *o.Value.Ref)
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidDefinition, errors.Join(problems...))
	}
	return nil
}

// ResolveOutputs resolves every output against the created attributes.
func (d *Definition) ResolveOutputs(r Resolver) (map[string]string, error) {
	outputs := make(map[string]string, len(d.Outputs))
	for _, o := range d.Outputs {
		value, err := r.Resolve(o.Value)
		if err != nil {
			return nil, fmt.Errorf("output %s: %w", o.Key, err)
		}
		outputs[o.Key] = value
	}
	return outputs, nil
}

type synthResource struct {
	Name      string   `yaml:"name"`
	Kind      Kind     `yaml:"kind"`
	DependsOn []string `yaml:"depends_on,omitempty"`
	Spec      Spec     `yaml:"properties"`
}

type synthDocument struct {
	Stack        string          `yaml:"stack"`
	DeploymentID string          `yaml:"deployment_id"`
	Resources    []synthResource `yaml:"resources"`
	Outputs      []Output        `yaml:"outputs"`
}

// Synth renders the definition as YAML.
func (d *Definition) Synth() ([]byte, error) {
	doc := synthDocument{Stack: d.Name, DeploymentID: d.DeploymentID, Outputs: d.Outputs}
	for _, r := range d.Resources {
		doc.Resources = append(doc.Resources, synthResource{
			Name:      r.Name,
			Kind:      r.Kind(),
			DependsOn: dependsOn(r),
			Spec:      r.Spec,
		})
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal definition: %w", err)
	}
	return out, nil
}

func dependsOn(r Resource) []string {
	var names []string
	seen := make(map[string]bool)
	for _, ref := range r.Spec.Refs() {
		if !seen[ref.Resource] {
			seen[ref.Resource] = true
			names = append(names, ref.Resource)
		}
	}
	return names
}

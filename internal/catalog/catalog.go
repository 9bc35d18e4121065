// Package catalog provides the read-only type catalog for chainlab.
//
// It defines semantic types, formal parameters, and module definitions,
// and a Catalog that resolves modules by id or name. A Catalog is built
// once (from code or from catalog files) and never mutated afterwards;
// reloading produces a fresh Catalog.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrInvalidCatalog is returned when catalog contents are inconsistent.
	ErrInvalidCatalog = errors.New("invalid catalog")

	// ErrInvalidModule is returned when a module definition is malformed.
	ErrInvalidModule = errors.New("invalid module")
)

// SemanticType tags a formal parameter for link-compatibility checks.
// Two types are compatible only when their ids are equal.
type SemanticType struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Equal reports whether t and o denote the same semantic type.
// A nil type is never equal to anything, including another nil.
func (t *SemanticType) Equal(o *SemanticType) bool {
	if t == nil || o == nil {
		return false
	}
	return t.ID == o.ID
}

func (t *SemanticType) String() string {
	if t == nil {
		return "<untyped>"
	}
	return t.Name
}

// FormalParam is a named input or output slot on a module.
type FormalParam struct {
	Name        string
	Type        *SemanticType // nil means untyped; untyped params are never linkable
	Description string
}

// Typed reports whether the parameter carries a semantic type.
func (p FormalParam) Typed() bool {
	return p.Type != nil
}

// MarshalJSON encodes the parameter with its type by name.
func (p FormalParam) MarshalJSON() ([]byte, error) {
	var typ string
	if p.Type != nil {
		typ = p.Type.Name
	}
	return json.Marshal(struct {
		Name        string `json:"name"`
		Type        string `json:"type,omitempty"`
		Description string `json:"description,omitempty"`
	}{p.Name, typ, p.Description})
}

// ModuleDef is an immutable description of one operation.
type ModuleDef struct {
	id          int64
	name        string
	description string
	inputs      []FormalParam
	outputs     []FormalParam
}

// NewModuleDef creates a module definition. The parameter slices are copied.
func NewModuleDef(id int64, name string, inputs, outputs []FormalParam) *ModuleDef {
	return &ModuleDef{
		id:      id,
		name:    name,
		inputs:  append([]FormalParam(nil), inputs...),
		outputs: append([]FormalParam(nil), outputs...),
	}
}

// Validate checks that no parameter name repeats within one polarity.
// The same name may appear once as an input and once as an output.
func (m *ModuleDef) Validate() error {
	if err := uniqueNames(m.name, "input", m.inputs); err != nil {
		return err
	}
	return uniqueNames(m.name, "output", m.outputs)
}

func uniqueNames(module, polarity string, params []FormalParam) error {
	seen := make(map[string]bool, len(params))
	for _, p := range params {
		if seen[p.Name] {
			return fmt.Errorf("%w: module %q declares %s %q twice", ErrInvalidModule, module, polarity, p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// WithDescription returns a copy of m carrying the given description.
func (m *ModuleDef) WithDescription(description string) *ModuleDef {
	cp := *m
	cp.description = description
	return &cp
}

// ID returns the module id.
func (m *ModuleDef) ID() int64 { return m.id }

// Name returns the module name. Names are not unique within a catalog.
func (m *ModuleDef) Name() string { return m.name }

// Description returns the free-form module description.
func (m *ModuleDef) Description() string { return m.description }

// Inputs returns a copy of the formal inputs in declared order.
func (m *ModuleDef) Inputs() []FormalParam {
	return append([]FormalParam(nil), m.inputs...)
}

// Outputs returns a copy of the formal outputs in declared order.
func (m *ModuleDef) Outputs() []FormalParam {
	return append([]FormalParam(nil), m.outputs...)
}

// Input looks up an input by name and returns it with its declared position.
func (m *ModuleDef) Input(name string) (FormalParam, int, bool) {
	return findParam(m.inputs, name)
}

// Output looks up an output by name and returns it with its declared position.
func (m *ModuleDef) Output(name string) (FormalParam, int, bool) {
	return findParam(m.outputs, name)
}

// MarshalJSON encodes the module with its parameters.
func (m *ModuleDef) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID          int64         `json:"id"`
		Name        string        `json:"name"`
		Description string        `json:"description,omitempty"`
		Inputs      []FormalParam `json:"inputs"`
		Outputs     []FormalParam `json:"outputs"`
	}{m.id, m.name, m.description, nonNil(m.inputs), nonNil(m.outputs)})
}

func nonNil(params []FormalParam) []FormalParam {
	if params == nil {
		return []FormalParam{}
	}
	return params
}

func findParam(params []FormalParam, name string) (FormalParam, int, bool) {
	for i, p := range params {
		if p.Name == name {
			return p, i, true
		}
	}
	return FormalParam{}, -1, false
}

// Catalog is a read-only lookup of semantic types and module definitions.
type Catalog struct {
	types       []*SemanticType
	typesByID   map[int64]*SemanticType
	typesByName map[string]*SemanticType

	modules       []*ModuleDef
	modulesByID   map[int64]*ModuleDef
	modulesByName map[string][]*ModuleDef
}

// New builds a catalog from the given types and modules, in declared order.
//
// It fails with ErrInvalidCatalog when type ids or names repeat, module ids
// repeat, a module declares the same parameter name twice for one polarity,
// or a parameter references a type that is not part of the catalog.
func New(types []*SemanticType, modules []*ModuleDef) (*Catalog, error) {
	c := &Catalog{
		typesByID:     make(map[int64]*SemanticType, len(types)),
		typesByName:   make(map[string]*SemanticType, len(types)),
		modulesByID:   make(map[int64]*ModuleDef, len(modules)),
		modulesByName: make(map[string][]*ModuleDef),
	}

	for _, t := range types {
		if t == nil {
			return nil, fmt.Errorf("%w: nil semantic type", ErrInvalidCatalog)
		}
		if _, dup := c.typesByID[t.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate semantic type id %d", ErrInvalidCatalog, t.ID)
		}
		if _, dup := c.typesByName[t.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate semantic type name %q", ErrInvalidCatalog, t.Name)
		}
		c.types = append(c.types, t)
		c.typesByID[t.ID] = t
		c.typesByName[t.Name] = t
	}

	for _, m := range modules {
		if m == nil {
			return nil, fmt.Errorf("%w: nil module", ErrInvalidCatalog)
		}
		if _, dup := c.modulesByID[m.id]; dup {
			return nil, fmt.Errorf("%w: duplicate module id %d", ErrInvalidCatalog, m.id)
		}
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
		}
		if err := c.checkParams(m, "input", m.inputs); err != nil {
			return nil, err
		}
		if err := c.checkParams(m, "output", m.outputs); err != nil {
			return nil, err
		}
		c.modules = append(c.modules, m)
		c.modulesByID[m.id] = m
		c.modulesByName[m.name] = append(c.modulesByName[m.name], m)
	}

	return c, nil
}

func (c *Catalog) checkParams(m *ModuleDef, polarity string, params []FormalParam) error {
	for _, p := range params {
		if p.Type == nil {
			continue
		}
		known, ok := c.typesByID[p.Type.ID]
		if !ok || known.Name != p.Type.Name {
			return fmt.Errorf("%w: module %q %s %q references unknown type %s",
				ErrInvalidCatalog, m.name, polarity, p.Name, p.Type)
		}
	}
	return nil
}

// ModuleByID returns the module with the given id.
func (c *Catalog) ModuleByID(id int64) (*ModuleDef, bool) {
	m, ok := c.modulesByID[id]
	return m, ok
}

// ModuleByName returns the first declared module with the given name.
func (c *Catalog) ModuleByName(name string) (*ModuleDef, bool) {
	ms := c.modulesByName[name]
	if len(ms) == 0 {
		return nil, false
	}
	return ms[0], true
}

// ModulesByName returns every module with the given name, in declared order.
func (c *Catalog) ModulesByName(name string) []*ModuleDef {
	return append([]*ModuleDef(nil), c.modulesByName[name]...)
}

// FormalInputs returns the module's inputs in declared order.
func (c *Catalog) FormalInputs(m *ModuleDef) []FormalParam {
	return m.Inputs()
}

// FormalOutputs returns the module's outputs in declared order.
func (c *Catalog) FormalOutputs(m *ModuleDef) []FormalParam {
	return m.Outputs()
}

// TypeByID returns the semantic type with the given id.
func (c *Catalog) TypeByID(id int64) (*SemanticType, bool) {
	t, ok := c.typesByID[id]
	return t, ok
}

// TypeByName returns the semantic type with the given name.
func (c *Catalog) TypeByName(name string) (*SemanticType, bool) {
	t, ok := c.typesByName[name]
	return t, ok
}

// Modules returns all modules in declared order.
func (c *Catalog) Modules() []*ModuleDef {
	return append([]*ModuleDef(nil), c.modules...)
}

// Types returns all semantic types sorted by id.
func (c *Catalog) Types() []*SemanticType {
	out := append([]*SemanticType(nil), c.types...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ModuleCount returns the number of modules.
func (c *Catalog) ModuleCount() int {
	return len(c.modules)
}

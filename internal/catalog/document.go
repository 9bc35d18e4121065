package catalog

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// document is the format-agnostic form of one catalog file.
type document struct {
	Types   []typeDoc   `yaml:"types" validate:"dive"`
	Modules []moduleDoc `yaml:"modules" validate:"dive"`
}

type typeDoc struct {
	Name string `yaml:"name" validate:"required"`
	ID   int64  `yaml:"id" validate:"gt=0"`
}

type moduleDoc struct {
	Name        string     `yaml:"name" validate:"required"`
	ID          int64      `yaml:"id" validate:"gt=0"`
	Description string     `yaml:"description"`
	Inputs      []paramDoc `yaml:"inputs" validate:"unique=Name,dive"`
	Outputs     []paramDoc `yaml:"outputs" validate:"unique=Name,dive"`
}

type paramDoc struct {
	Name        string `yaml:"name" validate:"required"`
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
}

func (d *document) merge(o *document) {
	d.Types = append(d.Types, o.Types...)
	d.Modules = append(d.Modules, o.Modules...)
}

func (d *document) validate(source string) error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidCatalog, source, formatValidationError(err))
	}
	return nil
}

// build resolves type references by name and constructs the Catalog.
func (d *document) build() (*Catalog, error) {
	types := make([]*SemanticType, 0, len(d.Types))
	byName := make(map[string]*SemanticType, len(d.Types))
	for _, td := range d.Types {
		t := &SemanticType{ID: td.ID, Name: td.Name}
		types = append(types, t)
		if _, dup := byName[td.Name]; !dup {
			byName[td.Name] = t
		}
	}

	resolve := func(module string, params []paramDoc) ([]FormalParam, error) {
		out := make([]FormalParam, 0, len(params))
		for _, pd := range params {
			p := FormalParam{Name: pd.Name, Description: pd.Description}
			if pd.Type != "" {
				t, ok := byName[pd.Type]
				if !ok {
					return nil, fmt.Errorf("%w: module %q parameter %q references unknown type %q",
						ErrInvalidCatalog, module, pd.Name, pd.Type)
				}
				p.Type = t
			}
			out = append(out, p)
		}
		return out, nil
	}

	modules := make([]*ModuleDef, 0, len(d.Modules))
	for _, md := range d.Modules {
		inputs, err := resolve(md.Name, md.Inputs)
		if err != nil {
			return nil, err
		}
		outputs, err := resolve(md.Name, md.Outputs)
		if err != nil {
			return nil, err
		}
		m := NewModuleDef(md.ID, md.Name, inputs, outputs)
		if md.Description != "" {
			m = m.WithDescription(md.Description)
		}
		modules = append(modules, m)
	}

	return New(types, modules)
}

// formatValidationError turns validator errors into one readable message.
func formatValidationError(err error) error {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	msgs := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		msgs = append(msgs, formatFieldError(e))
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

func formatFieldError(e validator.FieldError) string {
	field := strings.TrimPrefix(e.Namespace(), "document.")

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, e.Param())
	case "unique":
		return fmt.Sprintf("%s has duplicate %s values", field, strings.ToLower(e.Param()))
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

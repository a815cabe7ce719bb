package ilasm

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/yaml.v3"

	"github.com/715d/trimflow/pkg/il"
)

// Document is a corpus file: a set of types whose methods carry IL
// listings. Documents are stored as YAML or canonical CBOR.
type Document struct {
	Module string    `yaml:"module" cbor:"1,keyasint"`
	Types  []TypeDoc `yaml:"types" cbor:"2,keyasint"`
}

// TypeDoc describes one type definition.
type TypeDoc struct {
	Name          string      `yaml:"name" cbor:"1,keyasint"`
	ValueType     bool        `yaml:"value_type,omitempty" cbor:"2,keyasint,omitempty"`
	GenericParams []string    `yaml:"generic_params,omitempty" cbor:"3,keyasint,omitempty"`
	Fields        []FieldDoc  `yaml:"fields,omitempty" cbor:"4,keyasint,omitempty"`
	Methods       []MethodDoc `yaml:"methods,omitempty" cbor:"5,keyasint,omitempty"`
}

// FieldDoc describes one field.
type FieldDoc struct {
	Name   string `yaml:"name" cbor:"1,keyasint"`
	Type   string `yaml:"type" cbor:"2,keyasint"`
	Static bool   `yaml:"static,omitempty" cbor:"3,keyasint,omitempty"`
}

// MethodDoc describes one method. Params and Locals use the parenthesized
// list syntax, for example `(string name, out object result)`.
type MethodDoc struct {
	Name          string   `yaml:"name" cbor:"1,keyasint"`
	Static        bool     `yaml:"static,omitempty" cbor:"2,keyasint,omitempty"`
	Returns       string   `yaml:"returns,omitempty" cbor:"3,keyasint,omitempty"`
	Params        string   `yaml:"params,omitempty" cbor:"4,keyasint,omitempty"`
	GenericParams []string `yaml:"generic_params,omitempty" cbor:"5,keyasint,omitempty"`
	Locals        string   `yaml:"locals,omitempty" cbor:"6,keyasint,omitempty"`
	Directives    []string `yaml:"directives,omitempty" cbor:"7,keyasint,omitempty"`
	Body          string   `yaml:"body,omitempty" cbor:"8,keyasint,omitempty"`
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("ilasm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// DecodeYAML parses a YAML document.
func DecodeYAML(data []byte) (*Document, error) {
	var d Document
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("ilasm: unmarshal yaml document: %w", err)
	}
	return &d, nil
}

// DecodeCBOR parses a CBOR document.
func DecodeCBOR(data []byte) (*Document, error) {
	var d Document
	if err := cbor.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("ilasm: unmarshal cbor document: %w", err)
	}
	return &d, nil
}

// EncodeCBOR serializes d in canonical CBOR so equal documents encode to
// equal bytes.
func EncodeCBOR(d *Document) ([]byte, error) {
	return cborEncMode.Marshal(d)
}

// EncodeYAML serializes d as YAML.
func EncodeYAML(d *Document) ([]byte, error) {
	return yaml.Marshal(d)
}

// Build defines every type of d in mod and assembles method bodies. All
// signatures are defined before any body is assembled.
func (d *Document) Build(mod *il.Module) ([]*il.TypeDef, error) {
	defs := make([]*il.TypeDef, 0, len(d.Types))
	bodies := make(map[*il.MethodDef]string)

	for _, td := range d.Types {
		def, err := td.define(bodies)
		if err != nil {
			return nil, fmt.Errorf("type %s: %w", td.Name, err)
		}
		mod.AddType(def)
		defs = append(defs, def)
	}

	for _, def := range defs {
		for _, m := range def.Methods {
			src, ok := bodies[m]
			if !ok {
				// Locals without code declare nothing.
				m.Body = nil
				continue
			}
			if _, err := Assemble(m, src); err != nil {
				return nil, fmt.Errorf("method %s: %w", m.FullName(), err)
			}
		}
	}
	return defs, nil
}

func (td *TypeDoc) define(bodies map[*il.MethodDef]string) (*il.TypeDef, error) {
	if td.Name == "" {
		return nil, fmt.Errorf("missing type name")
	}
	def := &il.TypeDef{Name: td.Name, ValueType: td.ValueType, GenericParams: td.GenericParams}

	for _, fd := range td.Fields {
		t, err := ParseType(fd.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", fd.Name, err)
		}
		def.AddField(&il.FieldDef{Name: fd.Name, Type: t, Static: fd.Static})
	}

	for _, md := range td.Methods {
		m, err := md.define()
		if err != nil {
			return nil, fmt.Errorf("method %s: %w", md.Name, err)
		}
		def.AddMethod(m)
		if md.Body != "" {
			bodies[m] = md.Body
		}
	}
	return def, nil
}

func (md *MethodDoc) define() (*il.MethodDef, error) {
	m := &il.MethodDef{
		Name:          md.Name,
		Static:        md.Static,
		GenericParams: md.GenericParams,
		Directives:    md.Directives,
	}

	returns := md.Returns
	if returns == "" {
		returns = "void"
	}
	ret, err := ParseType(returns)
	if err != nil {
		return nil, err
	}
	m.Return = ret

	if md.Params != "" {
		if m.Params, err = ParseParams(md.Params); err != nil {
			return nil, err
		}
	}

	if md.Locals != "" {
		locals, err := ParseParams(md.Locals)
		if err != nil {
			return nil, fmt.Errorf("locals: %w", err)
		}
		m.Body = &il.MethodBody{Method: m}
		for i, l := range locals {
			m.Body.Locals = append(m.Body.Locals, &il.Local{Index: i, Type: l.Type, Name: l.Name})
		}
	}
	return m, nil
}

package store

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PropType identifies the declared type of a property.
type PropType string

const (
	TypeString PropType = "string"
	TypeInt    PropType = "int"
	TypeFloat  PropType = "float"
	TypeBool   PropType = "bool"
	TypeDate   PropType = "date"

	// TypeLink is a to-one relationship to a row in Target.
	TypeLink PropType = "link"

	// TypeList is an ordered to-many relationship to rows in Target.
	TypeList PropType = "list"

	// TypeBacklink is a declared inverse relationship: all rows in Target
	// whose Origin property links to this row. Backlink properties are
	// computed at read time and cannot be written.
	TypeBacklink PropType = "backlink"
)

// valueType reports whether t holds a plain comparable value.
func (t PropType) valueType() bool {
	switch t {
	case TypeString, TypeInt, TypeFloat, TypeBool, TypeDate:
		return true
	}
	return false
}

// Property declares one property of a table.
type Property struct {
	Name string   `yaml:"name"`
	Type PropType `yaml:"type"`

	// Target is the table a link, list, or backlink property refers to.
	Target string `yaml:"target,omitempty"`

	// Origin is the link or list property in Target that a backlink inverts.
	Origin string `yaml:"origin,omitempty"`
}

// Table declares one table of the schema.
type Table struct {
	Name       string     `yaml:"name"`
	Properties []Property `yaml:"properties"`
}

// Schema is the validated set of table declarations a store is opened with.
type Schema struct {
	Tables []Table `yaml:"tables"`

	byName map[string]*Table
	props  map[string]map[string]*Property
}

// NewSchema builds and validates a schema from table declarations.
func NewSchema(tables ...Table) (*Schema, error) {
	s := &Schema{Tables: tables}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// ParseSchema parses a YAML schema document and validates it.
func ParseSchema(data []byte) (*Schema, error) {
	s := &Schema{}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadSchema reads and parses a YAML schema file.
func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	return ParseSchema(data)
}

// Table returns the declaration for a table name.
func (s *Schema) Table(name string) (*Table, bool) {
	t, ok := s.byName[name]
	return t, ok
}

// Property returns the declaration for a property of a table.
func (s *Schema) Property(table, prop string) (*Property, bool) {
	p, ok := s.props[table][prop]
	return p, ok
}

func (s *Schema) validate() error {
	if len(s.Tables) == 0 {
		return fmt.Errorf("vantage: schema declares no tables")
	}
	s.byName = make(map[string]*Table, len(s.Tables))
	s.props = make(map[string]map[string]*Property, len(s.Tables))
	for i := range s.Tables {
		t := &s.Tables[i]
		if t.Name == "" {
			return fmt.Errorf("vantage: schema table %d has no name", i)
		}
		if _, dup := s.byName[t.Name]; dup {
			return fmt.Errorf("vantage: duplicate table %q", t.Name)
		}
		s.byName[t.Name] = t
		props := make(map[string]*Property, len(t.Properties))
		for j := range t.Properties {
			p := &t.Properties[j]
			if p.Name == "" {
				return fmt.Errorf("vantage: table %q property %d has no name", t.Name, j)
			}
			if _, dup := props[p.Name]; dup {
				return fmt.Errorf("vantage: table %q duplicate property %q", t.Name, p.Name)
			}
			props[p.Name] = p
		}
		s.props[t.Name] = props
	}

	// Cross-table references can only be checked once all tables are indexed.
	for _, t := range s.Tables {
		for i := range t.Properties {
			p := &t.Properties[i]
			switch p.Type {
			case TypeString, TypeInt, TypeFloat, TypeBool, TypeDate:
				if p.Target != "" || p.Origin != "" {
					return fmt.Errorf("vantage: table %q property %q: value type takes no target", t.Name, p.Name)
				}
			case TypeLink, TypeList:
				if _, ok := s.byName[p.Target]; !ok {
					return fmt.Errorf("vantage: table %q property %q: unknown target table %q", t.Name, p.Name, p.Target)
				}
			case TypeBacklink:
				origin, ok := s.Property(p.Target, p.Origin)
				if !ok {
					return fmt.Errorf("vantage: table %q backlink %q: no property %q in table %q", t.Name, p.Name, p.Origin, p.Target)
				}
				if origin.Type != TypeLink && origin.Type != TypeList {
					return fmt.Errorf("vantage: table %q backlink %q: origin %q.%q is not a link", t.Name, p.Name, p.Target, p.Origin)
				}
				if origin.Target != t.Name {
					return fmt.Errorf("vantage: table %q backlink %q: origin %q.%q links to %q", t.Name, p.Name, p.Target, p.Origin, origin.Target)
				}
			default:
				return fmt.Errorf("vantage: table %q property %q: unknown type %q", t.Name, p.Name, p.Type)
			}
		}
	}
	return nil
}

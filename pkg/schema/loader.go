package schema

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// schemaYAML mirrors the schema file layout. Column declarations stay in
// yaml.Node form so declaration order survives into Source.Columns.
type schemaYAML struct {
	Enums   map[string][]string   `yaml:"enums"`
	Sources map[string]sourceYAML `yaml:"sources"`
}

type sourceYAML struct {
	PrimaryKey string    `yaml:"primary_key"`
	Columns    yaml.Node `yaml:"columns"`
}

// columnYAML is the long column form. The short form is a bare type name.
type columnYAML struct {
	Type     string `yaml:"type"`
	Nullable *bool  `yaml:"nullable"`
	Enum     string `yaml:"enum"`
}

// Load reads and validates a schema file, returning the immutable registry.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSchemaNotFound, path)
		}
		return nil, err
	}

	reg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return reg, nil
}

// Parse builds and validates a registry from schema YAML.
func Parse(data []byte) (*Registry, error) {
	var raw schemaYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	if len(raw.Sources) == 0 {
		return nil, errors.New("schema declares no sources")
	}

	reg := &Registry{
		sources: make(map[string]*Source, len(raw.Sources)),
		enums:   raw.Enums,
	}
	if reg.enums == nil {
		reg.enums = map[string][]string{}
	}
	for name, vals := range reg.enums {
		if len(vals) == 0 {
			return nil, fmt.Errorf("enum '%s': %w", name, ErrEmptyEnum)
		}
	}

	// Sorted so a file with several problems always reports the same one
	// first.
	names := make([]string, 0, len(raw.Sources))
	for name := range raw.Sources {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		sy := raw.Sources[name]
		cols, err := decodeColumns(name, &sy.Columns)
		if err != nil {
			return nil, err
		}
		src := &Source{Name: name, PrimaryKey: sy.PrimaryKey, Columns: cols}
		if err := validateSource(src, reg.enums); err != nil {
			return nil, err
		}
		reg.sources[name] = src
	}

	return reg, nil
}

func decodeColumns(source string, node *yaml.Node) ([]Column, error) {
	if node.Kind == 0 || (node.Kind == yaml.ScalarNode && node.Tag == "!!null") {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, NewSchemaError(source, "", errors.New("columns must be a mapping"))
	}

	cols := make([]Column, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		valNode := node.Content[i+1]
		col := Column{Name: name, Nullable: true}

		switch valNode.Kind {
		case yaml.ScalarNode:
			t, err := ParseDataType(valNode.Value)
			if err != nil {
				return nil, NewSchemaError(source, name, err)
			}
			col.Type = t
		case yaml.MappingNode:
			var long columnYAML
			if err := valNode.Decode(&long); err != nil {
				return nil, NewSchemaError(source, name, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
			}
			if long.Type == "" && long.Enum != "" {
				long.Type = string(TypeString)
			}
			t, err := ParseDataType(long.Type)
			if err != nil {
				return nil, NewSchemaError(source, name, err)
			}
			col.Type = t
			if long.Nullable != nil {
				col.Nullable = *long.Nullable
			}
			col.EnumRef = long.Enum
		default:
			return nil, NewSchemaError(source, name, errors.New("column must be a type name or a mapping"))
		}

		cols = append(cols, col)
	}
	return cols, nil
}

func validateSource(src *Source, enums map[string][]string) error {
	if len(src.Columns) == 0 {
		return NewSchemaError(src.Name, "", ErrNoColumns)
	}
	if src.PrimaryKey == "" {
		return NewSchemaError(src.Name, "", ErrMissingPrimaryKey)
	}
	if _, ok := src.Column(src.PrimaryKey); !ok {
		return NewSchemaError(src.Name, src.PrimaryKey, ErrPrimaryKeyNotColumn)
	}

	// The key identifies a row for its whole lifetime; it can never be null.
	for i := range src.Columns {
		if src.Columns[i].Name == src.PrimaryKey {
			src.Columns[i].Nullable = false
		}
	}

	for _, c := range src.Columns {
		if c.EnumRef == "" {
			continue
		}
		if _, ok := enums[c.EnumRef]; !ok {
			return NewSchemaError(src.Name, c.Name, fmt.Errorf("%w: %q", ErrUnknownEnum, c.EnumRef))
		}
		if c.Type != TypeString {
			return NewSchemaError(src.Name, c.Name, fmt.Errorf("enum-bound column must be string, got %s", c.Type))
		}
	}
	return nil
}

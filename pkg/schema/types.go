// Package schema defines the immutable source descriptors the gateway
// serves: the column type taxonomy, the typed row value, and the registry
// loaded from schema YAML at startup. Nothing in this package mutates after
// load.
package schema

import "fmt"

// DataType enumerates the column types the gateway understands. Every
// column declared in schema YAML must resolve to one of these.
type DataType string

const (
	TypeInteger   DataType = "integer"
	TypeBigInt    DataType = "bigint"
	TypeFloat     DataType = "float"
	TypeString    DataType = "string"
	TypeUUID      DataType = "uuid"
	TypeTimestamp DataType = "timestamp"
	TypeDate      DataType = "date"
	TypeTime      DataType = "time"
	TypeBoolean   DataType = "boolean"
	TypeJSON      DataType = "json"
	TypeArray     DataType = "array"
)

// typeAliases maps the PostgreSQL/Materialize type names accepted in schema
// YAML onto the canonical taxonomy. Canonical names map to themselves.
var typeAliases = map[string]DataType{
	"integer":     TypeInteger,
	"int":         TypeInteger,
	"int2":        TypeInteger,
	"int4":        TypeInteger,
	"smallint":    TypeInteger,
	"bigint":      TypeBigInt,
	"int8":        TypeBigInt,
	"numeric":     TypeBigInt,
	"decimal":     TypeBigInt,
	"float":       TypeFloat,
	"float4":      TypeFloat,
	"float8":      TypeFloat,
	"real":        TypeFloat,
	"double":      TypeFloat,
	"string":      TypeString,
	"text":        TypeString,
	"varchar":     TypeString,
	"char":        TypeString,
	"uuid":        TypeUUID,
	"timestamp":   TypeTimestamp,
	"timestamptz": TypeTimestamp,
	"date":        TypeDate,
	"time":        TypeTime,
	"timetz":      TypeTime,
	"boolean":     TypeBoolean,
	"bool":        TypeBoolean,
	"json":        TypeJSON,
	"jsonb":       TypeJSON,
	"array":       TypeArray,
}

// ParseDataType resolves a type name from schema YAML (canonical or a
// PostgreSQL alias) to its DataType.
func ParseDataType(name string) (DataType, error) {
	if t, ok := typeAliases[name]; ok {
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownType, name)
}

// Column describes one column of a source view.
type Column struct {
	Name     string
	Type     DataType
	Nullable bool
	EnumRef  string // name of a declared enum, empty when unbound
}

// Source is the immutable descriptor of one upstream view: its name, the
// primary-key column, and the columns in declaration order.
type Source struct {
	Name       string
	PrimaryKey string
	Columns    []Column
}

// Column returns the named column and whether it exists. Sources carry few
// columns, so a linear scan is fine.
func (s *Source) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns the column names in declaration order.
func (s *Source) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchemaYAML = `
enums:
  order_status:
    - open
    - filled
    - cancelled

sources:
  trades:
    primary_key: id
    columns:
      id: integer
      symbol: string
      price: float
      volume: bigint
      executed_at: timestamp

  orders:
    primary_key: order_id
    columns:
      order_id: uuid
      status:
        enum: order_status
      total:
        type: numeric
        nullable: false
      tags: array
      meta: jsonb
`

func TestParseSchema(t *testing.T) {
	reg, err := Parse([]byte(testSchemaYAML))
	require.NoError(t, err)
	require.Equal(t, 2, reg.Len())

	trades, err := reg.Lookup("trades")
	require.NoError(t, err)
	assert.Equal(t, "id", trades.PrimaryKey)
	assert.Equal(t, []string{"id", "symbol", "price", "volume", "executed_at"},
		trades.ColumnNames(), "columns keep declaration order")

	id, ok := trades.Column("id")
	require.True(t, ok)
	assert.Equal(t, TypeInteger, id.Type)
	assert.False(t, id.Nullable, "primary key is never nullable")

	price, ok := trades.Column("price")
	require.True(t, ok)
	assert.Equal(t, TypeFloat, price.Type)
	assert.True(t, price.Nullable, "columns default to nullable")

	orders, err := reg.Lookup("orders")
	require.NoError(t, err)

	status, ok := orders.Column("status")
	require.True(t, ok)
	assert.Equal(t, TypeString, status.Type, "enum columns default to string")
	assert.Equal(t, "order_status", status.EnumRef)

	total, ok := orders.Column("total")
	require.True(t, ok)
	assert.Equal(t, TypeBigInt, total.Type, "numeric resolves to bigint")
	assert.False(t, total.Nullable)

	vals, ok := reg.Enum("order_status")
	require.True(t, ok)
	assert.Equal(t, []string{"open", "filled", "cancelled"}, vals)
}

func TestRegistryLookupUnknown(t *testing.T) {
	reg, err := Parse([]byte(testSchemaYAML))
	require.NoError(t, err)

	_, err = reg.Lookup("positions")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSourceNotFound)

	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, "positions", schemaErr.Source)

	assert.False(t, reg.Has("positions"))
	assert.True(t, reg.Has("trades"))
}

func TestRegistryAllSorted(t *testing.T) {
	reg, err := Parse([]byte(testSchemaYAML))
	require.NoError(t, err)

	all := reg.All()
	require.Len(t, all, 2)
	assert.Equal(t, "orders", all[0].Name)
	assert.Equal(t, "trades", all[1].Name)
}

func TestParseSchemaValidation(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		errText string
	}{
		{
			name:    "no sources",
			yaml:    `enums: {}`,
			errText: "no sources",
		},
		{
			name: "no columns",
			yaml: `
sources:
  empty:
    primary_key: id
`,
			errText: "no columns",
		},
		{
			name: "missing primary key",
			yaml: `
sources:
  trades:
    columns:
      id: integer
`,
			errText: "missing primary_key",
		},
		{
			name: "primary key not a column",
			yaml: `
sources:
  trades:
    primary_key: nope
    columns:
      id: integer
`,
			errText: "not a declared column",
		},
		{
			name: "unknown type",
			yaml: `
sources:
  trades:
    primary_key: id
    columns:
      id: geography
`,
			errText: "unknown column type",
		},
		{
			name: "unknown enum",
			yaml: `
sources:
  trades:
    primary_key: id
    columns:
      id: integer
      status:
        enum: missing
`,
			errText: "enum not declared",
		},
		{
			name: "enum on non-string column",
			yaml: `
enums:
  st: [a, b]
sources:
  trades:
    primary_key: id
    columns:
      id: integer
      status:
        type: integer
        enum: st
`,
			errText: "must be string",
		},
		{
			name: "empty enum",
			yaml: `
enums:
  st: []
sources:
  trades:
    primary_key: id
    columns:
      id: integer
`,
			errText: "enum has no values",
		},
		{
			name:    "invalid yaml",
			yaml:    `{{{`,
			errText: "invalid YAML",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errText)
		})
	}
}

func TestLoadSchemaFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testSchemaYAML), 0644))

	reg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, reg.Has("trades"))
}

func TestLoadSchemaFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/schema.yaml")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchemaNotFound)
}

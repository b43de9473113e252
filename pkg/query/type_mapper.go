package query

import (
	"strings"
)

// LogicalType is the engine-independent type of a result column.
type LogicalType string

// Logical types.
const (
	TypeInteger   LogicalType = "INTEGER"
	TypeFloat     LogicalType = "FLOAT"
	TypeBoolean   LogicalType = "BOOLEAN"
	TypeText      LogicalType = "TEXT"
	TypeBinary    LogicalType = "BINARY"
	TypeTimestamp LogicalType = "TIMESTAMP"
	TypeDate      LogicalType = "DATE"
)

// TypeMapper maps engine column type names to logical types.
type TypeMapper struct {
	typeMapping map[string]LogicalType
}

// NewTypeMapper creates a new type mapper with default mappings.
func NewTypeMapper() *TypeMapper {
	// DuckDB and PostgreSQL type names as reported by the drivers'
	// DatabaseTypeName.
	return &TypeMapper{
		typeMapping: map[string]LogicalType{
			"BIGINT":       TypeInteger,
			"INTEGER":      TypeInteger,
			"INT":          TypeInteger,
			"INT2":         TypeInteger,
			"INT4":         TypeInteger,
			"INT8":         TypeInteger,
			"SMALLINT":     TypeInteger,
			"TINYINT":      TypeInteger,
			"UBIGINT":      TypeInteger,
			"UINTEGER":     TypeInteger,
			"USMALLINT":    TypeInteger,
			"UTINYINT":     TypeInteger,
			"DOUBLE":       TypeFloat,
			"FLOAT":        TypeFloat,
			"FLOAT4":       TypeFloat,
			"FLOAT8":       TypeFloat,
			"REAL":         TypeFloat,
			"VARCHAR":      TypeText,
			"TEXT":         TypeText,
			"STRING":       TypeText,
			"BPCHAR":       TypeText,
			"UUID":         TypeText,
			"INTERVAL":     TypeText,
			"HUGEINT":      TypeText,
			"DECIMAL":      TypeText,
			"NUMERIC":      TypeText,
			"JSON":         TypeText,
			"TIMESTAMP":    TypeTimestamp,
			"TIMESTAMP_NS": TypeTimestamp,
			"TIMESTAMP_MS": TypeTimestamp,
			"TIMESTAMP_S":  TypeTimestamp,
			"TIMESTAMPTZ":  TypeTimestamp,
			"DATE":         TypeDate,
			"BOOLEAN":      TypeBoolean,
			"BOOL":         TypeBoolean,
			"BLOB":         TypeBinary,
			"BYTEA":        TypeBinary,
		},
	}
}

// MapEngineType converts an engine type name to its logical type.
// Parameterized names such as DECIMAL(18,3) or VARCHAR(20) map by their base
// name. Unknown and nested types map to TEXT.
func (m *TypeMapper) MapEngineType(dbType string) LogicalType {
	base := strings.ToUpper(strings.TrimSpace(dbType))
	if i := strings.IndexByte(base, '('); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}
	if t, ok := m.typeMapping[base]; ok {
		return t
	}
	return TypeText
}

// InferLogicalTypes returns the logical type of every column of b. Columns
// without a reported engine type are inferred from their first non-nil value.
func (m *TypeMapper) InferLogicalTypes(b *Batch) []LogicalType {
	out := make([]LogicalType, len(b.Columns))
	for i := range b.Columns {
		if i < len(b.ColumnTypes) && b.ColumnTypes[i] != "" {
			out[i] = m.MapEngineType(b.ColumnTypes[i])
			continue
		}
		out[i] = inferFromValues(b.Rows, i)
	}
	return out
}

func inferFromValues(rows []Row, col int) LogicalType {
	for _, row := range rows {
		if col >= len(row) || row[col] == nil {
			continue
		}
		switch row[col].(type) {
		case int64:
			return TypeInteger
		case float64:
			return TypeFloat
		case bool:
			return TypeBoolean
		case []byte:
			return TypeBinary
		default:
			return TypeText
		}
	}
	return TypeText
}

// defaultTypeMapper is the package-level type mapper instance.
var defaultTypeMapper = NewTypeMapper()

// MapEngineType is a convenience function using the default mapper.
func MapEngineType(dbType string) LogicalType {
	return defaultTypeMapper.MapEngineType(dbType)
}

// InferLogicalTypes is a convenience function using the default mapper.
func InferLogicalTypes(b *Batch) []LogicalType {
	return defaultTypeMapper.InferLogicalTypes(b)
}

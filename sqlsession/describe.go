// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sqlsession

import (
	"slices"

	"github.com/apache/arrow-go/v18/arrow"
)

// Column describes one column of a result stream.
type Column struct {
	Name     string
	Type     string // human-readable Arrow type, e.g. "int", "list[string]"
	Nullable bool
	// Geometry is true for columns the server listed in geo_columns. Their
	// values are encoded per the stream's GeometryRepresentation.
	Geometry bool
}

func describeColumns(schema *arrow.Schema, geoColumns []string) []Column {
	cols := make([]Column, schema.NumFields())
	for i, f := range schema.Fields() {
		cols[i] = Column{
			Name:     f.Name,
			Type:     arrowTypeToString(f.Type),
			Nullable: f.Nullable,
			Geometry: slices.Contains(geoColumns, f.Name),
		}
	}
	return cols
}

// arrowTypeToString returns a human-readable type name for an Arrow type.
func arrowTypeToString(dt arrow.DataType) string {
	switch dt.ID() {
	case arrow.STRING, arrow.LARGE_STRING:
		return "string"
	case arrow.INT64:
		return "int"
	case arrow.INT32:
		return "int32"
	case arrow.FLOAT64:
		return "float"
	case arrow.FLOAT32:
		return "float32"
	case arrow.BOOL:
		return "bool"
	case arrow.BINARY, arrow.LARGE_BINARY:
		return "bytes"
	case arrow.TIMESTAMP:
		return "timestamp"
	case arrow.DATE32, arrow.DATE64:
		return "date"
	case arrow.DECIMAL128, arrow.DECIMAL256:
		return "decimal"
	case arrow.LIST:
		lt := dt.(*arrow.ListType)
		return "list[" + arrowTypeToString(lt.Elem()) + "]"
	case arrow.MAP:
		mt := dt.(*arrow.MapType)
		return "dict[" + arrowTypeToString(mt.KeyType()) + ", " + arrowTypeToString(mt.ItemType()) + "]"
	case arrow.STRUCT:
		return "struct"
	case arrow.DICTIONARY:
		return "enum"
	default:
		return dt.String()
	}
}

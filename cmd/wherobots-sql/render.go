// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Query-farm/wherobots-sql/sqlsession"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/pterm/pterm"
)

const maxCellWidth = 60

func renderRun(n int, run *statementRun, maxRows int) {
	pterm.DefaultSection.Printfln("[%d] %s", n, oneLine(run.sql))

	switch {
	case run.err != nil:
		pterm.Error.Println(run.err.Error())
	case run.res.Cancelled():
		pterm.Warning.Printfln("Cancelled after %s", run.took.Round(time.Millisecond))
	case run.res.Stored != nil:
		renderStored(run.res.Stored, run.took)
	default:
		renderStream(run.res.Stream, maxRows, run.took)
	}
}

func renderStored(st *sqlsession.StoreResult, took time.Duration) {
	size := "unknown size"
	if st.Size != nil {
		size = strconv.FormatInt(*st.Size, 10) + " bytes"
	}
	pterm.Success.Printfln("Stored in %s (%s)", took.Round(time.Millisecond), size)
	pterm.Println(st.ResultURI)
}

func renderStream(s *sqlsession.ResultStream, maxRows int, took time.Duration) {
	cols := s.Columns()
	header := make([]string, len(cols))
	for i, c := range cols {
		header[i] = c.Name
		if c.Geometry {
			header[i] += " (" + string(s.Geometry) + ")"
		}
	}
	data := pterm.TableData{header}

	shown := 0
	for batch, err := range s.Batches() {
		if err != nil {
			pterm.Error.Println(err.Error())
			return
		}
		for row := 0; row < int(batch.NumRows()); row++ {
			if maxRows > 0 && shown >= maxRows {
				break
			}
			data = append(data, formatRow(batch, row))
			shown++
		}
	}

	if len(cols) > 0 {
		if err := pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(data).Render(); err != nil {
			pterm.Error.Println(err.Error())
		}
	}
	stats := s.Stats()
	summary := fmt.Sprintf("%d rows in %s", stats.Rows, took.Round(time.Millisecond))
	if int64(shown) < stats.Rows {
		summary += fmt.Sprintf(", first %d shown", shown)
	}
	pterm.Info.Println(summary)
}

func formatRow(batch arrow.RecordBatch, row int) []string {
	out := make([]string, batch.NumCols())
	for i := range out {
		out[i] = truncate(formatCell(batch.Column(i), row))
	}
	return out
}

// formatCell renders one value for display.
func formatCell(col arrow.Array, idx int) string {
	if col.IsNull(idx) {
		return "NULL"
	}
	switch c := col.(type) {
	case *array.String:
		return c.Value(idx)
	case *array.LargeString:
		return c.Value(idx)
	case *array.Int64:
		return strconv.FormatInt(c.Value(idx), 10)
	case *array.Int32:
		return strconv.FormatInt(int64(c.Value(idx)), 10)
	case *array.Float64:
		return strconv.FormatFloat(c.Value(idx), 'g', -1, 64)
	case *array.Float32:
		return strconv.FormatFloat(float64(c.Value(idx)), 'g', -1, 32)
	case *array.Boolean:
		return strconv.FormatBool(c.Value(idx))
	case *array.Binary:
		// WKB geometries arrive as binary.
		return "\\x" + hex.EncodeToString(c.Value(idx))
	case *array.Timestamp:
		unit := c.DataType().(*arrow.TimestampType).Unit
		return c.Value(idx).ToTime(unit).UTC().Format(time.RFC3339Nano)
	case *array.Date32:
		return c.Value(idx).FormattedString()
	case *array.Dictionary:
		return formatCell(c.Dictionary(), c.GetValueIndex(idx))
	default:
		return col.ValueStr(idx)
	}
}

func truncate(s string) string {
	if len(s) <= maxCellWidth {
		return s
	}
	return s[:maxCellWidth-3] + "..."
}

func oneLine(sql string) string {
	return truncate(strings.Join(strings.Fields(sql), " "))
}

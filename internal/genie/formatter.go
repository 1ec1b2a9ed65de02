// Copyright 2024 Genie Teams Bot Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package genie

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	// NoDataText is rendered when an answer carries nothing displayable
	NoDataText = "No data available."
	// NullCell is rendered for SQL NULL values
	NullCell = "NULL"
)

// Column is one entry of a statement manifest schema
type Column struct {
	Name     string `json:"name"`
	TypeName string `json:"type_name"`
}

type resultData struct {
	DataArray [][]interface{} `json:"data_array"`
}

var printer = message.NewPrinter(language.English)

// Format renders an answer as Markdown. It never fails: input that does not
// have the expected shape is reported inline.
func Format(answer Answer) string {
	var sb strings.Builder

	switch a := answer.(type) {
	case Tabular:
		if a.QueryDescription != "" {
			sb.WriteString("## Query Description\n\n")
			sb.WriteString(a.QueryDescription)
			sb.WriteString("\n\n")
		}
		sb.WriteString("## Query Results\n\n")
		writeTable(&sb, a.Columns, a.Data)
	case TextMessage:
		sb.WriteString(a.Text)
		sb.WriteString("\n\n")
	default:
		// Error answers and unknown values have nothing to show
		sb.WriteString(NoDataText)
		sb.WriteString("\n\n")
	}

	return sb.String()
}

func writeTable(sb *strings.Builder, rawColumns, rawData json.RawMessage) {
	columns, ok := parseColumns(rawColumns)
	if !ok {
		fmt.Fprintf(sb, "Unexpected column format: %s\n\n", compact(rawColumns))
		return
	}

	names := make([]string, len(columns))
	separators := make([]string, len(columns))
	for i, col := range columns {
		names[i] = col.Name
		separators[i] = "---"
	}
	sb.WriteString("| " + strings.Join(names, " | ") + " |\n")
	sb.WriteString("|" + strings.Join(separators, "|") + "|\n")

	for _, row := range parseRows(rawData) {
		n := len(row)
		if len(columns) < n {
			n = len(columns)
		}
		cells := make([]string, n)
		for i := 0; i < n; i++ {
			cells[i] = FormatCell(row[i], columns[i].TypeName)
		}
		sb.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
}

// parseColumns accepts only an object holding a "columns" array
func parseColumns(raw json.RawMessage) ([]Column, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, false
	}
	entries, ok := fields["columns"]
	if !ok || isNull(entries) {
		return nil, false
	}

	var columns []Column
	if err := json.Unmarshal(entries, &columns); err != nil {
		return nil, false
	}
	return columns, true
}

func parseRows(raw json.RawMessage) [][]interface{} {
	var data resultData
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&data); err != nil {
		return nil
	}
	return data.DataArray
}

// FormatCell renders a single value according to its SQL type name
func FormatCell(value interface{}, typeName string) string {
	if value == nil {
		return NullCell
	}

	switch strings.ToUpper(typeName) {
	case "DECIMAL", "DOUBLE", "FLOAT":
		if f, ok := toFloat(value); ok {
			return printer.Sprintf("%.2f", f)
		}
	case "INT", "BIGINT", "LONG":
		if i, ok := toInt(value); ok {
			return printer.Sprintf("%d", i)
		}
	}

	return literal(value)
}

func toFloat(value interface{}) (float64, bool) {
	var f float64
	var err error
	switch v := value.(type) {
	case json.Number:
		f, err = v.Float64()
	case float64:
		f = v
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(v), 64)
	default:
		return 0, false
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func toInt(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, true
		}
		// Integral values serialized with a fraction, e.g. 42.0
		if f, err := v.Float64(); err == nil && f == math.Trunc(f) && math.Abs(f) < math.MaxInt64 {
			return int64(f), true
		}
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < math.MaxInt64 {
			return int64(v), true
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}

func literal(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	}
}

func compact(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "null"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

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
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatCell(t *testing.T) {
	tests := []struct {
		name     string
		value    interface{}
		typeName string
		expected string
	}{
		{"double with grouping", json.Number("1234.5"), "DOUBLE", "1,234.50"},
		{"decimal from string", "98765.4321", "DECIMAL", "98,765.43"},
		{"float from json value", 1234.567, "FLOAT", "1,234.57"},
		{"bigint with grouping", json.Number("1000000"), "BIGINT", "1,000,000"},
		{"int", json.Number("42"), "INT", "42"},
		{"long from string", "-1234567", "LONG", "-1,234,567"},
		{"int serialized with fraction", json.Number("7.0"), "INT", "7"},
		{"lowercase type name", json.Number("1500"), "bigint", "1,500"},
		{"null double", nil, "DOUBLE", "NULL"},
		{"null string", nil, "STRING", "NULL"},
		{"null untyped", nil, "", "NULL"},
		{"string literal", "north", "STRING", "north"},
		{"number without numeric type", json.Number("1234.5"), "STRING", "1234.5"},
		{"bool", true, "BOOLEAN", "true"},
		{"unparseable int falls back", "n/a", "INT", "n/a"},
		{"unparseable double falls back", "n/a", "DOUBLE", "n/a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatCell(tt.value, tt.typeName); got != tt.expected {
				t.Errorf("FormatCell(%v, %q) = %q, want %q", tt.value, tt.typeName, got, tt.expected)
			}
		})
	}
}

func TestFormat_TextMessage(t *testing.T) {
	got := Format(TextMessage{Text: "There were no orders yesterday."})

	assert.Equal(t, "There were no orders yesterday.\n\n", got)
	assert.NotContains(t, got, "## Query Results")
}

func TestFormat_ErrorRendersNoData(t *testing.T) {
	assert.Equal(t, "No data available.\n\n", Format(Error{Message: GenericErrorMessage}))
	assert.Equal(t, "No data available.\n\n", Format(nil))
}

func TestFormat_Tabular(t *testing.T) {
	answer := Tabular{
		Columns: json.RawMessage(`{"columns":[{"name":"region","type_name":"STRING"},{"name":"revenue","type_name":"DOUBLE"},{"name":"orders","type_name":"BIGINT"}]}`),
		Data:    json.RawMessage(`{"data_array":[["north","1234.5","1000000"],["south",null,"12"]]}`),
	}

	expected := "## Query Results\n\n" +
		"| region | revenue | orders |\n" +
		"|---|---|---|\n" +
		"| north | 1,234.50 | 1,000,000 |\n" +
		"| south | NULL | 12 |\n"

	assert.Equal(t, expected, Format(answer))
}

func TestFormat_TabularWithDescription(t *testing.T) {
	answer := Tabular{
		Columns:          json.RawMessage(`{"columns":[{"name":"count","type_name":"INT"}]}`),
		Data:             json.RawMessage(`{"data_array":[[42]]}`),
		QueryDescription: "Monthly order count",
	}

	got := Format(answer)

	assert.True(t, strings.HasPrefix(got, "## Query Description\n\nMonthly order count\n\n## Query Results\n\n"))
	assert.Contains(t, got, "| count |\n")
	assert.Contains(t, got, "| 42 |\n")
}

func TestFormat_TableShape(t *testing.T) {
	for _, size := range []struct{ cols, rows int }{{1, 0}, {1, 1}, {3, 4}, {5, 10}} {
		t.Run(fmt.Sprintf("%dx%d", size.cols, size.rows), func(t *testing.T) {
			columns := make([]Column, size.cols)
			for i := range columns {
				columns[i] = Column{Name: fmt.Sprintf("c%d", i), TypeName: "INT"}
			}
			rows := make([][]int, size.rows)
			for r := range rows {
				rows[r] = make([]int, size.cols)
				for c := range rows[r] {
					rows[r][c] = r * c
				}
			}
			rawColumns, _ := json.Marshal(map[string]interface{}{"columns": columns})
			rawData, _ := json.Marshal(map[string]interface{}{"data_array": rows})

			got := Format(Tabular{Columns: rawColumns, Data: rawData})

			lines := strings.Split(strings.TrimSuffix(strings.TrimPrefix(got, "## Query Results\n\n"), "\n"), "\n")
			assert.Len(t, lines, 2+size.rows)
			assert.Equal(t, size.cols+2, len(strings.Split(lines[0], "|")), "header cells")
			assert.Equal(t, strings.Repeat("|---", size.cols)+"|", lines[1])
			for _, line := range lines[2:] {
				assert.Equal(t, size.cols+2, len(strings.Split(line, "|")), "row cells")
			}
		})
	}
}

func TestFormat_UnexpectedColumns(t *testing.T) {
	tests := []struct {
		name    string
		columns string
	}{
		{"list instead of object", `["region","revenue"]`},
		{"missing columns key", `{"fields":[]}`},
		{"columns not a list", `{"columns":"region"}`},
		{"null columns", `{"columns":null}`},
		{"null schema", `null`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Format(Tabular{
				Columns: json.RawMessage(tt.columns),
				Data:    json.RawMessage(`{"data_array":[[1]]}`),
			})

			assert.Contains(t, got, "Unexpected column format: "+tt.columns)
			assert.NotContains(t, got, "|---")
		})
	}
}

func TestFormat_MissingRows(t *testing.T) {
	got := Format(Tabular{
		Columns: json.RawMessage(`{"columns":[{"name":"n","type_name":"INT"}]}`),
		Data:    json.RawMessage(`null`),
	})

	assert.Equal(t, "## Query Results\n\n| n |\n|---|\n", got)
}

func TestFormat_RowLongerThanColumns(t *testing.T) {
	got := Format(Tabular{
		Columns: json.RawMessage(`{"columns":[{"name":"a","type_name":"STRING"}]}`),
		Data:    json.RawMessage(`{"data_array":[["x1","y2","z3"]]}`),
	})

	assert.Contains(t, got, "| x1 |\n")
	assert.NotContains(t, got, "y2")
}

// Package normalize parses response bodies from any of the three dialects
// and canonicalizes them into one tabular schema: a TIME_PERIOD observation
// index, an OBS_VALUE field, and the dataset's dimension columns.
package normalize

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Canonical column names.
const (
	// TimePeriodColumn is the canonical observation-index field.
	TimePeriodColumn = "TIME_PERIOD"

	// ValueColumn is the canonical observation-value field.
	ValueColumn = "OBS_VALUE"
)

// ErrParse indicates a malformed response body.
var ErrParse = errors.New("malformed response body")

// Table is the canonical tabular result consumed by the downstream labeling
// and statistics layer.
type Table struct {
	// Columns is the canonical column order: TIME_PERIOD, OBS_VALUE, then
	// dimension columns in first-seen order.
	Columns []string

	Rows []map[string]string
}

// DimensionColumns returns the columns that identify a series: everything
// except the observation value.
func (t *Table) DimensionColumns() []string {
	dims := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		if c != ValueColumn {
			dims = append(dims, c)
		}
	}
	return dims
}

// columnAliases maps dialect-specific field names onto the canonical schema.
var columnAliases = map[string]string{
	"TIME_PERIOD": TimePeriodColumn,
	"TIME":        TimePeriodColumn,
	"obsTime":     TimePeriodColumn,
	"OBS_VALUE":   ValueColumn,
	"obsValue":    ValueColumn,
	"Value":       ValueColumn,
}

// droppedColumns are dialect-internal metadata fields with no place in the
// canonical schema.
var droppedColumns = map[string]bool{
	"DATAFLOW":       true, // SDMX-CSV 1.0
	"STRUCTURE":      true, // SDMX-CSV 2.0
	"STRUCTURE_ID":   true,
	"STRUCTURE_NAME": true,
	"ACTION":         true,
}

// canonicalColumn maps a dialect field name onto the canonical schema.
// ok is false for columns that must be dropped.
func canonicalColumn(name string) (string, bool) {
	if droppedColumns[name] {
		return "", false
	}
	if canonical, found := columnAliases[name]; found {
		return canonical, true
	}
	return name, true
}

// Normalize parses a CSV or JSON response body into the canonical table.
// The content type decides the parser; when it is ambiguous the body is
// sniffed. Parse failures wrap ErrParse.
func Normalize(body []byte, contentType string) (*Table, error) {
	if looksJSON(body, contentType) {
		return normalizeJSON(body)
	}
	return normalizeCSV(body)
}

func looksJSON(body []byte, contentType string) bool {
	if strings.Contains(contentType, "json") {
		return true
	}
	if strings.Contains(contentType, "csv") {
		return false
	}
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && (trimmed[0] == '[' || trimmed[0] == '{')
}

func normalizeCSV(body []byte) (*Table, error) {
	reader := csv.NewReader(bytes.NewReader(body))
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrParse)
	}

	header := records[0]
	rows := make([]map[string]string, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(map[string]string, len(header))
		for i, field := range record {
			if i >= len(header) {
				break
			}
			name, keep := canonicalColumn(header[i])
			if !keep {
				continue
			}
			row[name] = field
		}
		rows = append(rows, row)
	}

	columns := canonicalOrder(header)
	return &Table{Columns: columns, Rows: rows}, nil
}

func normalizeJSON(body []byte) (*Table, error) {
	var raw []map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	var header []string
	seen := map[string]bool{}
	rows := make([]map[string]string, 0, len(raw))
	for _, obj := range raw {
		row := make(map[string]string, len(obj))
		for key, value := range obj {
			if !seen[key] {
				seen[key] = true
				header = append(header, key)
			}
			name, keep := canonicalColumn(key)
			if !keep {
				continue
			}
			row[name] = stringify(value)
		}
		rows = append(rows, row)
	}

	columns := canonicalOrder(header)
	return &Table{Columns: columns, Rows: rows}, nil
}

func stringify(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(value)
	default:
		return fmt.Sprintf("%v", value)
	}
}

// canonicalOrder produces the canonical column order from a raw header:
// TIME_PERIOD first, OBS_VALUE second, remaining dimensions in first-seen
// order, dropped columns removed.
func canonicalOrder(header []string) []string {
	var hasTime, hasValue bool
	var dims []string
	seen := map[string]bool{}
	for _, raw := range header {
		name, keep := canonicalColumn(raw)
		if !keep || seen[name] {
			continue
		}
		seen[name] = true
		switch name {
		case TimePeriodColumn:
			hasTime = true
		case ValueColumn:
			hasValue = true
		default:
			dims = append(dims, name)
		}
	}

	columns := make([]string, 0, len(dims)+2)
	if hasTime {
		columns = append(columns, TimePeriodColumn)
	}
	if hasValue {
		columns = append(columns, ValueColumn)
	}
	return append(columns, dims...)
}

// Checksum computes an integrity checksum over the canonical table. It
// returns the empty string (never an error) for a nil table.
func Checksum(t *Table) string {
	if t == nil {
		return ""
	}
	h := xxhash.New()
	_, _ = h.WriteString(strings.Join(t.Columns, ","))
	for _, row := range t.Rows {
		_, _ = h.WriteString("\n")
		for _, col := range t.Columns {
			_, _ = h.WriteString(row[col])
			_, _ = h.WriteString(",")
		}
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

package orchestrator

import (
	"strings"

	"github.com/statwerk/istat-client/pkg/normalize"
)

// MergeTables merges a freshly downloaded table into a prior one,
// deduplicating on the full dimension key: every dimension column plus the
// observation index. On conflict the freshly downloaded row wins. Row order
// is prior rows first (updated in place), then new rows in download order.
func MergeTables(prior, latest *normalize.Table) *normalize.Table {
	if prior == nil {
		return latest
	}
	if latest == nil {
		return prior
	}

	columns := make([]string, 0, len(prior.Columns))
	seen := map[string]bool{}
	for _, c := range prior.Columns {
		columns = append(columns, c)
		seen[c] = true
	}
	for _, c := range latest.Columns {
		if !seen[c] {
			columns = append(columns, c)
			seen[c] = true
		}
	}

	merged := &normalize.Table{Columns: columns}
	dims := merged.DimensionColumns()

	index := make(map[string]int, len(prior.Rows))
	for _, row := range prior.Rows {
		copied := make(map[string]string, len(row))
		for k, v := range row {
			copied[k] = v
		}
		index[dimensionKey(dims, copied)] = len(merged.Rows)
		merged.Rows = append(merged.Rows, copied)
	}

	for _, row := range latest.Rows {
		copied := make(map[string]string, len(row))
		for k, v := range row {
			copied[k] = v
		}
		key := dimensionKey(dims, copied)
		if at, exists := index[key]; exists {
			merged.Rows[at] = copied
			continue
		}
		index[key] = len(merged.Rows)
		merged.Rows = append(merged.Rows, copied)
	}

	return merged
}

// dimensionKey builds the dedup key from the dimension column values. The
// unit separator keeps adjacent values from colliding.
func dimensionKey(dims []string, row map[string]string) string {
	parts := make([]string, len(dims))
	for i, dim := range dims {
		parts[i] = row[dim]
	}
	return strings.Join(parts, "\x1f")
}

package protocol

import (
	"fmt"
	"strings"
)

// Positional filter keys are dot-separated strings where each position
// corresponds 1:1 to a dataset dimension index (1-based). An empty position
// is a wildcard matching every value of that dimension.

// BuildFilterKey builds a positional filter key for a dataset with the given
// number of dimensions. values maps 1-based dimension positions to codes.
func BuildFilterKey(dimensions int, values map[int]string) (string, error) {
	if dimensions <= 0 {
		return "", validationErr("dimensions", fmt.Sprintf("%d", dimensions), "must be a positive dimension count")
	}
	positions := make([]string, dimensions)
	for pos, value := range values {
		if pos < 1 || pos > dimensions {
			return "", validationErr("position", fmt.Sprintf("%d", pos),
				fmt.Sprintf("out of range for %d dimensions", dimensions))
		}
		if strings.Contains(value, ".") {
			return "", validationErr("value", value, "must not contain the position separator '.'")
		}
		positions[pos-1] = value
	}
	return strings.Join(positions, "."), nil
}

// MergeFilter fills only wildcard (empty) positions of base with the values
// in updates (1-based positions). A position the caller already set is never
// overwritten; out-of-range positions are ignored.
func MergeFilter(base string, updates map[int]string) string {
	positions := strings.Split(base, ".")
	for pos, value := range updates {
		if pos < 1 || pos > len(positions) {
			continue
		}
		if positions[pos-1] == "" {
			positions[pos-1] = value
		}
	}
	return strings.Join(positions, ".")
}

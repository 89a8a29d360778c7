// Package protocol builds request descriptors for the three REST dialects the
// statistical service exposes: the legacy positional-filter API and the two
// generations of the high-value-datasets REST surface (SDMX 2.1 and SDMX 3.0
// style). Each dialect validates its own parameters before any network call.
package protocol

import "fmt"

// Dialect identifies one of the three supported REST dialects.
type Dialect string

const (
	// Legacy is the positional-filter API.
	Legacy Dialect = "legacy"

	// DialectV1 is the SDMX 2.1 style REST surface.
	DialectV1 Dialect = "sdmx21"

	// DialectV2 is the SDMX 3.0 style REST surface.
	DialectV2 Dialect = "sdmx30"
)

// ParseDialect converts a configuration string into a Dialect.
func ParseDialect(s string) (Dialect, error) {
	switch Dialect(s) {
	case Legacy, DialectV1, DialectV2:
		return Dialect(s), nil
	default:
		return "", fmt.Errorf("unknown dialect %q (valid: %s, %s, %s)", s, Legacy, DialectV1, DialectV2)
	}
}

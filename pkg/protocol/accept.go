package protocol

// ContentCategory distinguishes data requests from structure requests for
// content negotiation.
type ContentCategory string

const (
	// CategoryData is observation data.
	CategoryData ContentCategory = "data"

	// CategoryStructure is structural metadata (dataflows, codelists, DSDs).
	CategoryStructure ContentCategory = "structure"
)

// Format selects the response serialization.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXML  Format = "xml"
)

// AcceptHeader returns the Accept header value for a request. Data requests
// on the REST dialects use SDMX-versioned media types; structure requests
// must use generic media types because the server rejects SDMX-specific
// Accept headers on structure endpoints. The legacy dialect only understands
// generic media types.
func AcceptHeader(d Dialect, category ContentCategory, format Format) string {
	if category == CategoryData {
		switch d {
		case DialectV1:
			switch format {
			case FormatCSV:
				return "application/vnd.sdmx.data+csv;version=1.0.0"
			case FormatJSON:
				return "application/vnd.sdmx.data+json;version=1.0.0"
			case FormatXML:
				return "application/vnd.sdmx.genericdata+xml;version=2.1"
			}
		case DialectV2:
			switch format {
			case FormatCSV:
				return "application/vnd.sdmx.data+csv;version=2.0.0"
			case FormatJSON:
				return "application/vnd.sdmx.data+json;version=2.0.0"
			case FormatXML:
				return "application/vnd.sdmx.structurespecificdata+xml;version=3.0.0"
			}
		}
	}
	return genericMediaType(format)
}

func genericMediaType(format Format) string {
	switch format {
	case FormatCSV:
		return "text/csv"
	case FormatXML:
		return "application/xml"
	default:
		return "application/json"
	}
}

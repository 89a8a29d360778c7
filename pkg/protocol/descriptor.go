package protocol

import "net/http"

// EndpointKind identifies the remote endpoint category addressed by a request.
type EndpointKind string

const (
	// EndpointData addresses observation data.
	EndpointData EndpointKind = "data"

	// EndpointDataflow addresses the dataflow catalog.
	EndpointDataflow EndpointKind = "dataflow"

	// EndpointCodelist addresses a codelist definition.
	EndpointCodelist EndpointKind = "codelist"

	// EndpointDataStructure addresses a data structure definition.
	EndpointDataStructure EndpointKind = "datastructure"
)

// RequestDescriptor is a fully built, validated request. It is immutable once
// built: builders return a fresh descriptor and nothing mutates it afterward.
type RequestDescriptor struct {
	Method      string
	URL         string
	Headers     http.Header
	Body        []byte
	Dialect     Dialect
	Endpoint    EndpointKind
	DatasetID   string
	Filter      string
	StartPeriod string
	EndPeriod   string
}

// DataQuery holds the caller-supplied parameters for a data request.
type DataQuery struct {
	DatasetID string

	// Filter is the dot-separated positional filter key. Empty means all
	// observations (the dialect-specific wildcard is substituted).
	Filter string

	// DimensionFilters are DialectV2 component filters (c[DIM]=value).
	DimensionFilters map[string]string

	StartPeriod       string
	EndPeriod         string
	UpdatedAfter      string
	LastNObservations int

	// Detail and IncludeHistory apply to DialectV1 and DialectV2 only.
	Detail         string
	IncludeHistory bool

	Format Format

	// POST sends the filter in the request body instead of the path.
	POST bool
}

// StructureQuery holds the caller-supplied parameters for a structure
// (metadata) request.
type StructureQuery struct {
	Resource EndpointKind // EndpointDataflow, EndpointCodelist or EndpointDataStructure
	ID       string
	Agency   string
	Version  string
	Format   Format
}

// BuilderConfig carries the service coordinates shared by all builders.
type BuilderConfig struct {
	// BaseURL is the service root, without a trailing slash.
	BaseURL string

	// Agency is the data provider agency id (default "IT1").
	Agency string

	// Provider is the DialectV1 provider path segment (default "all").
	Provider string

	// DefaultVersion is the DialectV2 artefact version (default "~", latest).
	DefaultVersion string
}

func (c BuilderConfig) withDefaults() BuilderConfig {
	if c.Agency == "" {
		c.Agency = "IT1"
	}
	if c.Provider == "" {
		c.Provider = "all"
	}
	if c.DefaultVersion == "" {
		c.DefaultVersion = "~"
	}
	return c
}

// Builder constructs request descriptors for one dialect.
type Builder interface {
	Dialect() Dialect
	BuildData(q DataQuery) (*RequestDescriptor, error)
	BuildStructure(q StructureQuery) (*RequestDescriptor, error)
}

// NewBuilder returns the builder for the given dialect.
func NewBuilder(d Dialect, cfg BuilderConfig) (Builder, error) {
	if cfg.BaseURL == "" {
		return nil, validationErr("base_url", "", "must not be empty")
	}
	cfg = cfg.withDefaults()
	switch d {
	case Legacy:
		return &legacyBuilder{cfg: cfg}, nil
	case DialectV1:
		return &restV1Builder{cfg: cfg}, nil
	case DialectV2:
		return &restV2Builder{cfg: cfg}, nil
	default:
		return nil, validationErr("dialect", string(d), "unknown dialect")
	}
}

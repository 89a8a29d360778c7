package protocol

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// wildcardV2 is the DialectV2 filter segment matching every series.
const wildcardV2 = "*"

// restV2Builder builds requests for the SDMX 3.0 style REST surface.
// Path shape: /rest/v2/{endpoint}/{context}/{agency}/{resource}/{version}/{filter}.
type restV2Builder struct {
	cfg BuilderConfig
}

func (b *restV2Builder) Dialect() Dialect { return DialectV2 }

// BuildData builds a DialectV2 data request. Dimension and time-range
// filters are expressed as c[DIM] component query parameters rather than in
// the path; the path filter defaults to the wildcard token.
func (b *restV2Builder) BuildData(q DataQuery) (*RequestDescriptor, error) {
	if q.DatasetID == "" {
		return nil, validationErr("dataset_id", "", "must not be empty")
	}
	if q.LastNObservations < 0 {
		return nil, validationErr("last_n_observations", strconv.Itoa(q.LastNObservations), "must not be negative")
	}

	filter := q.Filter
	if filter == "" {
		filter = wildcardV2
	}

	method := http.MethodGet
	pathFilter := filter
	var body []byte
	if q.POST {
		method = http.MethodPost
		pathFilter = wildcardV2
		body = []byte(filter)
	}

	version := b.cfg.DefaultVersion
	u := fmt.Sprintf("%s/rest/v2/data/dataflow/%s/%s/%s/%s",
		b.cfg.BaseURL, b.cfg.Agency, q.DatasetID, version, pathFilter)

	query := b.dataQueryString(q)
	if query != "" {
		u += "?" + query
	}

	headers := http.Header{}
	headers.Set("Accept", AcceptHeader(DialectV2, CategoryData, q.Format))
	if q.POST {
		headers.Set("Content-Type", "text/plain")
	}

	return &RequestDescriptor{
		Method:      method,
		URL:         u,
		Headers:     headers,
		Body:        body,
		Dialect:     DialectV2,
		Endpoint:    EndpointData,
		DatasetID:   q.DatasetID,
		Filter:      filter,
		StartPeriod: q.StartPeriod,
		EndPeriod:   q.EndPeriod,
	}, nil
}

// dataQueryString assembles the component-filter query string. The service
// expects the c[...] brackets and the ge:/le: range operators literally, so
// the string is assembled by hand; only values are escaped.
func (b *restV2Builder) dataQueryString(q DataQuery) string {
	var pairs []string

	dims := make([]string, 0, len(q.DimensionFilters))
	for dim := range q.DimensionFilters {
		dims = append(dims, dim)
	}
	sort.Strings(dims)
	for _, dim := range dims {
		pairs = append(pairs, fmt.Sprintf("c[%s]=%s", dim, url.QueryEscape(q.DimensionFilters[dim])))
	}

	if q.StartPeriod != "" || q.EndPeriod != "" {
		var bounds []string
		if q.StartPeriod != "" {
			bounds = append(bounds, "ge:"+q.StartPeriod)
		}
		if q.EndPeriod != "" {
			bounds = append(bounds, "le:"+q.EndPeriod)
		}
		pairs = append(pairs, "c[TIME_PERIOD]="+strings.Join(bounds, "+"))
	}

	if q.UpdatedAfter != "" {
		pairs = append(pairs, "updatedAfter="+url.QueryEscape(q.UpdatedAfter))
	}
	if q.LastNObservations > 0 {
		pairs = append(pairs, "lastNObservations="+strconv.Itoa(q.LastNObservations))
	}
	if q.Detail != "" {
		pairs = append(pairs, "detail="+url.QueryEscape(q.Detail))
	}
	if q.IncludeHistory {
		pairs = append(pairs, "includeHistory=true")
	}

	return strings.Join(pairs, "&")
}

// BuildStructure builds a DialectV2 structure request. As on DialectV1,
// structure endpoints only accept generic media types.
func (b *restV2Builder) BuildStructure(q StructureQuery) (*RequestDescriptor, error) {
	resource, err := structureResource(q.Resource)
	if err != nil {
		return nil, err
	}
	agency := q.Agency
	if agency == "" {
		agency = b.cfg.Agency
	}
	version := q.Version
	if version == "" {
		version = b.cfg.DefaultVersion
	}

	u := fmt.Sprintf("%s/rest/v2/structure/%s/%s", b.cfg.BaseURL, resource, agency)
	if q.ID != "" {
		u += "/" + q.ID + "/" + version
	}

	headers := http.Header{}
	headers.Set("Accept", AcceptHeader(DialectV2, CategoryStructure, q.Format))

	return &RequestDescriptor{
		Method:   http.MethodGet,
		URL:      u,
		Headers:  headers,
		Dialect:  DialectV2,
		Endpoint: q.Resource,
	}, nil
}

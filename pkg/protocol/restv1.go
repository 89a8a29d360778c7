package protocol

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// postFilterPlaceholder replaces the filter path segment on POST requests;
// the filter itself travels in the request body.
const postFilterPlaceholder = "ALL"

// restV1Builder builds requests for the SDMX 2.1 style REST surface.
// Path shape: /rest/{endpoint}/{dataset}/{filter}/{provider}.
type restV1Builder struct {
	cfg BuilderConfig
}

func (b *restV1Builder) Dialect() Dialect { return DialectV1 }

// BuildData builds a DialectV1 data request. GET embeds the filter in the
// path; POST swaps it for a placeholder and sends it in the body.
func (b *restV1Builder) BuildData(q DataQuery) (*RequestDescriptor, error) {
	if q.DatasetID == "" {
		return nil, validationErr("dataset_id", "", "must not be empty")
	}
	if q.LastNObservations < 0 {
		return nil, validationErr("last_n_observations", strconv.Itoa(q.LastNObservations), "must not be negative")
	}

	filter := q.Filter
	if filter == "" {
		filter = "ALL"
	}

	params := url.Values{}
	if q.StartPeriod != "" {
		params.Set("startPeriod", q.StartPeriod)
	}
	if q.EndPeriod != "" {
		params.Set("endPeriod", q.EndPeriod)
	}
	if q.UpdatedAfter != "" {
		params.Set("updatedAfter", q.UpdatedAfter)
	}
	if q.LastNObservations > 0 {
		params.Set("lastNObservations", strconv.Itoa(q.LastNObservations))
	}
	if q.Detail != "" {
		params.Set("detail", q.Detail)
	}
	if q.IncludeHistory {
		params.Set("includeHistory", "true")
	}

	method := http.MethodGet
	pathFilter := filter
	var body []byte
	if q.POST {
		method = http.MethodPost
		pathFilter = postFilterPlaceholder
		body = []byte(filter)
	}

	u := fmt.Sprintf("%s/rest/data/%s/%s/%s", b.cfg.BaseURL, q.DatasetID, pathFilter, b.cfg.Provider)
	if encoded := params.Encode(); encoded != "" {
		u += "?" + encoded
	}

	headers := http.Header{}
	headers.Set("Accept", AcceptHeader(DialectV1, CategoryData, q.Format))
	if q.POST {
		headers.Set("Content-Type", "text/plain")
	}

	return &RequestDescriptor{
		Method:      method,
		URL:         u,
		Headers:     headers,
		Body:        body,
		Dialect:     DialectV1,
		Endpoint:    EndpointData,
		DatasetID:   q.DatasetID,
		Filter:      filter,
		StartPeriod: q.StartPeriod,
		EndPeriod:   q.EndPeriod,
	}, nil
}

// BuildStructure builds a DialectV1 structure request. Structure endpoints
// reject SDMX-specific Accept headers, so a generic media type is used.
func (b *restV1Builder) BuildStructure(q StructureQuery) (*RequestDescriptor, error) {
	resource, err := structureResource(q.Resource)
	if err != nil {
		return nil, err
	}
	agency := q.Agency
	if agency == "" {
		agency = b.cfg.Agency
	}

	u := fmt.Sprintf("%s/rest/%s/%s", b.cfg.BaseURL, resource, agency)
	if q.ID != "" {
		u += "/" + q.ID
		if q.Version != "" {
			u += "/" + q.Version
		}
	}

	headers := http.Header{}
	headers.Set("Accept", AcceptHeader(DialectV1, CategoryStructure, q.Format))

	return &RequestDescriptor{
		Method:   http.MethodGet,
		URL:      u,
		Headers:  headers,
		Dialect:  DialectV1,
		Endpoint: q.Resource,
	}, nil
}

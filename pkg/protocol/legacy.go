package protocol

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// legacyBuilder builds requests for the positional-filter API.
type legacyBuilder struct {
	cfg BuilderConfig
}

func (b *legacyBuilder) Dialect() Dialect { return Legacy }

// BuildData builds a legacy data request. The filter is embedded in the path
// as-is; optional query parameters are appended only when non-empty.
func (b *legacyBuilder) BuildData(q DataQuery) (*RequestDescriptor, error) {
	if q.DatasetID == "" {
		return nil, validationErr("dataset_id", "", "must not be empty")
	}
	if q.POST {
		return nil, validationErr("method", "POST", "legacy dialect only supports GET")
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

	u := fmt.Sprintf("%s/data/%s/%s", b.cfg.BaseURL, q.DatasetID, filter)
	if encoded := params.Encode(); encoded != "" {
		u += "?" + encoded
	}

	headers := http.Header{}
	headers.Set("Accept", AcceptHeader(Legacy, CategoryData, q.Format))

	return &RequestDescriptor{
		Method:      http.MethodGet,
		URL:         u,
		Headers:     headers,
		Dialect:     Legacy,
		Endpoint:    EndpointData,
		DatasetID:   q.DatasetID,
		Filter:      filter,
		StartPeriod: q.StartPeriod,
		EndPeriod:   q.EndPeriod,
	}, nil
}

// BuildStructure builds a legacy structure request.
func (b *legacyBuilder) BuildStructure(q StructureQuery) (*RequestDescriptor, error) {
	resource, err := structureResource(q.Resource)
	if err != nil {
		return nil, err
	}
	agency := q.Agency
	if agency == "" {
		agency = b.cfg.Agency
	}

	u := fmt.Sprintf("%s/%s/%s", b.cfg.BaseURL, resource, agency)
	if q.ID != "" {
		u += "/" + q.ID
	}

	headers := http.Header{}
	headers.Set("Accept", AcceptHeader(Legacy, CategoryStructure, q.Format))

	return &RequestDescriptor{
		Method:   http.MethodGet,
		URL:      u,
		Headers:  headers,
		Dialect:  Legacy,
		Endpoint: q.Resource,
	}, nil
}

// structureResource validates the structure endpoint kind.
func structureResource(kind EndpointKind) (string, error) {
	switch kind {
	case EndpointDataflow, EndpointCodelist, EndpointDataStructure:
		return string(kind), nil
	default:
		return "", validationErr("resource", string(kind), "not a structure endpoint")
	}
}

// Package orchestrator coordinates the download pipeline: it resolves the
// active dialect, builds the request descriptor, executes it through the
// retrying transport, normalizes the response and applies the
// incremental/edition/merge post-processing, consulting the metadata cache
// before and after.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/statwerk/istat-client/pkg/cache"
	"github.com/statwerk/istat-client/pkg/normalize"
	"github.com/statwerk/istat-client/pkg/protocol"
	"github.com/statwerk/istat-client/pkg/transport"
)

var (
	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "istat_downloads_total",
		Help: "Total dataset downloads by outcome",
	}, []string{"outcome"}) // "success", "no_update", "failure"

	batchItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "istat_batch_items_total",
		Help: "Total batch items by outcome",
	}, []string{"outcome"})
)

// FrequencyColumn is the canonical dimension holding the observation
// frequency code.
const FrequencyColumn = "FREQ"

// Request describes one dataset download.
type Request struct {
	DatasetID string

	// Filter is the dot-separated positional filter key (empty = all).
	Filter string

	// DimensionFilters are sdmx30 component filters.
	DimensionFilters map[string]string

	StartPeriod       string
	EndPeriod         string
	UpdatedAfter      string
	LastNObservations int
	Detail            string
	IncludeHistory    bool

	// Frequency keeps only observations whose FREQ dimension matches.
	Frequency string

	// EditionColumn names the edition dimension. When SelectLatestEdition
	// is set only rows of the chronologically latest edition are kept.
	EditionColumn       string
	SelectLatestEdition bool

	// IncrementalStart drops observations before the given period, for
	// incremental downloads appended to an existing result.
	IncrementalStart string

	// Prior merges the downloaded table into an earlier result, newest
	// rows winning on the full dimension key.
	Prior *normalize.Table

	// CheckUpdate consults the download log first: when RemoteLastUpdate
	// matches the logged value the data body is not fetched at all.
	CheckUpdate      bool
	RemoteLastUpdate string

	Format protocol.Format
	POST   bool
}

// BatchOptions configures a multi-dataset batch.
type BatchOptions struct {
	// Parallelism is accepted for interface compatibility only. Batches
	// always run strictly sequentially so the shared rate limiter keeps
	// its single-gap guarantee; any value here is ignored.
	Parallelism int
}

// BatchItem pairs a dataset id with its download result.
type BatchItem struct {
	DatasetID string
	Result    transport.ApiResult
}

// Downloader is the top-level download coordinator.
type Downloader struct {
	builder   protocol.Builder
	transport *transport.Transport
	cache     *cache.Manager
	logger    zerolog.Logger
}

// New creates a downloader on an already-wired builder, transport and cache.
func New(builder protocol.Builder, tr *transport.Transport, cm *cache.Manager, logger zerolog.Logger) *Downloader {
	return &Downloader{
		builder:   builder,
		transport: tr,
		cache:     cm,
		logger:    logger,
	}
}

// Download runs the full pipeline for one dataset. Expected failure modes
// are folded into the ApiResult, never returned as raw errors.
func (d *Downloader) Download(ctx context.Context, req Request) transport.ApiResult {
	logger := d.logger.With().
		Str("request_id", uuid.NewString()).
		Str("dataset_id", req.DatasetID).
		Str("dialect", string(d.builder.Dialect())).
		Logger()

	if req.CheckUpdate {
		needs, err := d.cache.NeedsUpdate(ctx, req.DatasetID, req.RemoteLastUpdate)
		if err != nil {
			downloadsTotal.WithLabelValues("failure").Inc()
			return transport.FailureResult(err)
		}
		if !needs {
			downloadsTotal.WithLabelValues("no_update").Inc()
			return transport.ApiResult{
				Success:   true,
				ExitCode:  transport.ExitSuccess,
				Message:   fmt.Sprintf("no update available for %s", req.DatasetID),
				Timestamp: time.Now(),
			}
		}
	}

	desc, err := d.builder.BuildData(protocol.DataQuery{
		DatasetID:         req.DatasetID,
		Filter:            req.Filter,
		DimensionFilters:  req.DimensionFilters,
		StartPeriod:       req.StartPeriod,
		EndPeriod:         req.EndPeriod,
		UpdatedAfter:      req.UpdatedAfter,
		LastNObservations: req.LastNObservations,
		Detail:            req.Detail,
		IncludeHistory:    req.IncludeHistory,
		Format:            req.Format,
		POST:              req.POST,
	})
	if err != nil {
		downloadsTotal.WithLabelValues("failure").Inc()
		return transport.FailureResult(err)
	}

	resp, err := d.transport.Execute(ctx, desc)
	if err != nil {
		logger.Warn().Err(err).Msg("Dataset download failed")
		downloadsTotal.WithLabelValues("failure").Inc()
		return transport.FailureResult(err)
	}

	table, err := normalize.Normalize(resp.Body, resp.ContentType())
	if err != nil {
		logger.Warn().Err(err).Msg("Response body could not be normalized")
		downloadsTotal.WithLabelValues("failure").Inc()
		return transport.FailureResult(err)
	}

	table, err = d.postProcess(table, req)
	if err != nil {
		downloadsTotal.WithLabelValues("failure").Inc()
		return transport.FailureResult(err)
	}

	if err := d.cache.RecordDownload(ctx, req.DatasetID, req.RemoteLastUpdate); err != nil {
		// The data is already in hand; a failed log write only costs one
		// skipped no-update shortcut later.
		logger.Warn().Err(err).Msg("Download log write failed")
	}

	checksum := normalize.Checksum(table)
	logger.Info().
		Int("rows", len(table.Rows)).
		Str("checksum", checksum).
		Msg("Dataset downloaded")
	downloadsTotal.WithLabelValues("success").Inc()
	return transport.SuccessResult(table, checksum, fmt.Sprintf("downloaded %d rows", len(table.Rows)))
}

// postProcess applies the incremental, frequency, edition and merge steps in
// that order.
func (d *Downloader) postProcess(table *normalize.Table, req Request) (*normalize.Table, error) {
	if req.IncrementalStart != "" {
		table = filterRows(table, func(row map[string]string) bool {
			return row[normalize.TimePeriodColumn] >= req.IncrementalStart
		})
	}

	if req.Frequency != "" {
		table = filterRows(table, func(row map[string]string) bool {
			return row[FrequencyColumn] == req.Frequency
		})
	}

	if req.SelectLatestEdition {
		column := req.EditionColumn
		if column == "" {
			return nil, fmt.Errorf("latest-edition selection requires an edition column")
		}
		latest, err := latestEditionInColumn(table, column)
		if err != nil {
			return nil, err
		}
		table = filterRows(table, func(row map[string]string) bool {
			return row[column] == latest
		})
	}

	if req.Prior != nil {
		table = MergeTables(req.Prior, table)
	}
	return table, nil
}

// latestEditionInColumn picks the chronologically latest edition code present
// in the given column.
func latestEditionInColumn(table *normalize.Table, column string) (string, error) {
	seen := map[string]bool{}
	var codes []string
	for _, row := range table.Rows {
		code := row[column]
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		codes = append(codes, code)
	}
	if len(codes) == 0 {
		return "", fmt.Errorf("no edition codes found in column %s", column)
	}
	return LatestEdition(codes)
}

// filterRows returns a table keeping only rows the predicate accepts.
func filterRows(table *normalize.Table, keep func(map[string]string) bool) *normalize.Table {
	filtered := &normalize.Table{Columns: table.Columns}
	for _, row := range table.Rows {
		if keep(row) {
			filtered.Rows = append(filtered.Rows, row)
		}
	}
	return filtered
}

// DownloadBatch downloads several datasets strictly sequentially. One
// dataset's failure never aborts the batch: the failed entry carries its
// failure reason while the rest proceed.
func (d *Downloader) DownloadBatch(ctx context.Context, reqs []Request, opts BatchOptions) []BatchItem {
	if opts.Parallelism > 1 {
		d.logger.Debug().
			Int("parallelism", opts.Parallelism).
			Msg("Parallelism ignored - batches run sequentially")
	}

	items := make([]BatchItem, 0, len(reqs))
	for _, req := range reqs {
		if err := ctx.Err(); err != nil {
			items = append(items, BatchItem{DatasetID: req.DatasetID, Result: transport.FailureResult(err)})
			batchItemsTotal.WithLabelValues("failure").Inc()
			continue
		}
		result := d.Download(ctx, req)
		if result.Success {
			batchItemsTotal.WithLabelValues("success").Inc()
		} else {
			batchItemsTotal.WithLabelValues("failure").Inc()
		}
		items = append(items, BatchItem{DatasetID: req.DatasetID, Result: result})
	}
	return items
}

// Codelist returns the raw codelist body, served from the metadata cache
// when present (expired entries included) and fetched otherwise.
func (d *Downloader) Codelist(ctx context.Context, codelistID string) ([]byte, error) {
	key := cache.CodelistKey(codelistID)
	if payload, _, err := d.cache.Get(ctx, key); err == nil {
		return payload, nil
	} else if !errors.Is(err, cache.ErrNotFound) {
		return nil, err
	}

	payload, err := d.fetchStructure(ctx, protocol.StructureQuery{
		Resource: protocol.EndpointCodelist,
		ID:       codelistID,
	})
	if err != nil {
		return nil, err
	}
	if err := d.cache.Put(ctx, key, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// DataflowCatalog returns the raw dataflow catalog body, cached like a
// codelist.
func (d *Downloader) DataflowCatalog(ctx context.Context) ([]byte, error) {
	if payload, _, err := d.cache.Get(ctx, cache.DataflowCatalogKey); err == nil {
		return payload, nil
	} else if !errors.Is(err, cache.ErrNotFound) {
		return nil, err
	}

	payload, err := d.fetchStructure(ctx, protocol.StructureQuery{
		Resource: protocol.EndpointDataflow,
	})
	if err != nil {
		return nil, err
	}
	if err := d.cache.Put(ctx, cache.DataflowCatalogKey, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// RefreshMetadata re-downloads the expired subset of cached metadata entries
// (or all, if forced). A nil key list checks every cached key.
func (d *Downloader) RefreshMetadata(ctx context.Context, keys []string, force bool) ([]string, error) {
	return d.cache.Refresh(ctx, keys, force, func(ctx context.Context, key string) ([]byte, error) {
		query, err := structureQueryForKey(key)
		if err != nil {
			return nil, err
		}
		return d.fetchStructure(ctx, query)
	})
}

// structureQueryForKey maps a cache key back onto the structure endpoint
// that produced it.
func structureQueryForKey(key string) (protocol.StructureQuery, error) {
	if key == cache.DataflowCatalogKey {
		return protocol.StructureQuery{Resource: protocol.EndpointDataflow}, nil
	}
	if id, ok := cache.CodelistID(key); ok {
		return protocol.StructureQuery{Resource: protocol.EndpointCodelist, ID: id}, nil
	}
	return protocol.StructureQuery{}, fmt.Errorf("cache key %q maps to no structure endpoint", key)
}

func (d *Downloader) fetchStructure(ctx context.Context, query protocol.StructureQuery) ([]byte, error) {
	desc, err := d.builder.BuildStructure(query)
	if err != nil {
		return nil, err
	}
	resp, err := d.transport.Execute(ctx, desc)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("structure fetch returned %s", resp.Status)
	}
	return resp.Body, nil
}

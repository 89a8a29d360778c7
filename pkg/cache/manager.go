package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
)

// Key namespaces inside the Store.
const (
	keyPrefixEntry = "istat:entry:"
	keyPrefixMeta  = "istat:meta:"
	keyPrefixRefs  = "istat:refs:"
	keyPrefixDlog  = "istat:dlog:"
)

// DataflowCatalogKey is the logical key of the dataflow catalog entry.
const DataflowCatalogKey = "dataflowcatalog"

// CodelistKey builds the logical key of a codelist entry. Codelists are
// stored once per codelist id, never per dataset; the reference map lets
// many datasets share one cached codelist.
func CodelistKey(codelistID string) string {
	return "codelist:" + codelistID
}

// CodelistID extracts the codelist id from a key built by CodelistKey.
func CodelistID(key string) (string, bool) {
	return strings.CutPrefix(key, "codelist:")
}

// EntryMeta is the per-entry bookkeeping record.
type EntryMeta struct {
	FirstDownload time.Time `json:"first_download_ts"`
	LastRefresh   time.Time `json:"last_refresh_ts"`
	TTLDays       int       `json:"ttl_days"`
}

// DownloadLogEntry records the last successful download of a dataset, one
// per dataset id, overwritten on every successful download.
type DownloadLogEntry struct {
	DatasetID        string    `json:"dataset_id"`
	DownloadedAt     time.Time `json:"downloaded_at"`
	RemoteLastUpdate string    `json:"remote_last_update"`
}

// Config holds the TTL staggering parameters.
type Config struct {
	// BaseTTLDays is the minimum entry lifetime (default 14).
	BaseTTLDays int

	// JitterWindowDays staggers expirations: each key's TTL falls in
	// [BaseTTLDays, BaseTTLDays+JitterWindowDays) deterministically, so
	// entries never all refresh at once.
	JitterWindowDays int
}

// DefaultConfig returns the cache defaults.
func DefaultConfig() Config {
	return Config{BaseTTLDays: 14, JitterWindowDays: 7}
}

// Manager implements the staggered-TTL metadata cache on a Store.
type Manager struct {
	store  Store
	cfg    Config
	logger zerolog.Logger
	clock  func() time.Time
}

// NewManager creates a cache manager.
func NewManager(store Store, cfg Config, logger zerolog.Logger) *Manager {
	if cfg.BaseTTLDays <= 0 {
		cfg.BaseTTLDays = 14
	}
	if cfg.JitterWindowDays <= 0 {
		cfg.JitterWindowDays = 7
	}
	return &Manager{
		store:  store,
		cfg:    cfg,
		logger: logger,
		clock:  time.Now,
	}
}

// ComputeTTL returns the entry lifetime in days for a key. The value is a
// pure function of the key and the two config constants: xxhash is a fixed,
// stable string hash, so recomputing always yields the same TTL.
func (m *Manager) ComputeTTL(key string) int {
	return m.cfg.BaseTTLDays + int(xxhash.Sum64String(key)%uint64(m.cfg.JitterWindowDays))
}

// Put stores or refreshes an entry under its logical key. The first-download
// timestamp is preserved across refreshes; the last-refresh timestamp always
// advances.
func (m *Manager) Put(ctx context.Context, key string, payload []byte) error {
	now := m.clock()
	meta := EntryMeta{
		FirstDownload: now,
		LastRefresh:   now,
		TTLDays:       m.ComputeTTL(key),
	}
	if existing, err := m.meta(ctx, key); err == nil {
		meta.FirstDownload = existing.FirstDownload
	}

	if err := m.store.Set(ctx, keyPrefixEntry+key, payload); err != nil {
		cacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("store entry %s: %w", key, err)
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal meta %s: %w", key, err)
	}
	if err := m.store.Set(ctx, keyPrefixMeta+key, metaBytes); err != nil {
		cacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("store meta %s: %w", key, err)
	}

	m.logger.Debug().
		Str("key", key).
		Int("ttl_days", meta.TTLDays).
		Msg("Cached entry")
	return nil
}

// Get retrieves an entry and its metadata. Expired entries are still
// returned: expiry only marks them for refresh, it never implicitly deletes.
func (m *Manager) Get(ctx context.Context, key string) ([]byte, *EntryMeta, error) {
	payload, err := m.store.Get(ctx, keyPrefixEntry+key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			cacheMisses.Inc()
			return nil, nil, ErrNotFound
		}
		cacheErrors.WithLabelValues("get").Inc()
		return nil, nil, fmt.Errorf("get entry %s: %w", key, err)
	}
	meta, err := m.meta(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	if strings.HasPrefix(key, "codelist:") {
		cacheHits.WithLabelValues("codelist").Inc()
	} else {
		cacheHits.WithLabelValues("catalog").Inc()
	}
	return payload, meta, nil
}

func (m *Manager) meta(ctx context.Context, key string) (*EntryMeta, error) {
	raw, err := m.store.Get(ctx, keyPrefixMeta+key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		cacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("get meta %s: %w", key, err)
	}
	var meta EntryMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("unmarshal meta %s: %w", key, err)
	}
	return &meta, nil
}

// Evict removes an entry and its metadata. Eviction is always explicit.
func (m *Manager) Evict(ctx context.Context, key string) error {
	if err := m.store.Delete(ctx, keyPrefixEntry+key); err != nil {
		cacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("evict entry %s: %w", key, err)
	}
	if err := m.store.Delete(ctx, keyPrefixMeta+key); err != nil {
		cacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("evict meta %s: %w", key, err)
	}
	return nil
}

// AllKeys returns every cached logical key.
func (m *Manager) AllKeys(ctx context.Context) ([]string, error) {
	raw, err := m.store.Keys(ctx, keyPrefixMeta)
	if err != nil {
		cacheErrors.WithLabelValues("keys").Inc()
		return nil, fmt.Errorf("list keys: %w", err)
	}
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, strings.TrimPrefix(k, keyPrefixMeta))
	}
	return keys, nil
}

// CheckExpiration returns the subset of keys whose TTL has elapsed. With a
// nil key list every cached key is checked. force treats everything as
// expired.
func (m *Manager) CheckExpiration(ctx context.Context, keys []string, force bool) ([]string, error) {
	if keys == nil {
		all, err := m.AllKeys(ctx)
		if err != nil {
			return nil, err
		}
		keys = all
	}
	if force {
		expired := make([]string, len(keys))
		copy(expired, keys)
		return expired, nil
	}

	now := m.clock()
	var expired []string
	for _, key := range keys {
		meta, err := m.meta(ctx, key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Never downloaded counts as expired.
				expired = append(expired, key)
				continue
			}
			return nil, err
		}
		expiresAt := meta.LastRefresh.Add(time.Duration(meta.TTLDays) * 24 * time.Hour)
		if now.After(expiresAt) {
			expired = append(expired, key)
		}
	}
	return expired, nil
}

// Refresh re-downloads only the expired subset of keys (or all, if forced)
// using the supplied fetch function, updating each refreshed entry's
// metadata. A single key's fetch failure does not abort the rest. The
// refreshed keys are returned.
func (m *Manager) Refresh(ctx context.Context, keys []string, force bool, fetch func(ctx context.Context, key string) ([]byte, error)) ([]string, error) {
	expired, err := m.CheckExpiration(ctx, keys, force)
	if err != nil {
		return nil, err
	}

	var refreshed []string
	for _, key := range expired {
		payload, err := fetch(ctx, key)
		if err != nil {
			m.logger.Warn().
				Err(err).
				Str("key", key).
				Msg("Refresh fetch failed - keeping stale entry")
			continue
		}
		if err := m.Put(ctx, key, payload); err != nil {
			m.logger.Warn().Err(err).Str("key", key).Msg("Refresh store failed")
			continue
		}
		refreshesTotal.Inc()
		refreshed = append(refreshed, key)
	}

	m.logger.Info().
		Int("expired", len(expired)).
		Int("refreshed", len(refreshed)).
		Bool("force", force).
		Msg("Cache refresh complete")
	return refreshed, nil
}

// SetCodelistRefs records which codelists a dataset references.
func (m *Manager) SetCodelistRefs(ctx context.Context, datasetID string, codelistIDs []string) error {
	raw, err := json.Marshal(codelistIDs)
	if err != nil {
		return fmt.Errorf("marshal refs %s: %w", datasetID, err)
	}
	if err := m.store.Set(ctx, keyPrefixRefs+datasetID, raw); err != nil {
		cacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("store refs %s: %w", datasetID, err)
	}
	return nil
}

// CodelistRefs returns the codelist ids a dataset references.
func (m *Manager) CodelistRefs(ctx context.Context, datasetID string) ([]string, error) {
	raw, err := m.store.Get(ctx, keyPrefixRefs+datasetID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		cacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("get refs %s: %w", datasetID, err)
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("unmarshal refs %s: %w", datasetID, err)
	}
	return ids, nil
}

// RecordDownload overwrites the download log entry for a dataset.
func (m *Manager) RecordDownload(ctx context.Context, datasetID, remoteLastUpdate string) error {
	entry := DownloadLogEntry{
		DatasetID:        datasetID,
		DownloadedAt:     m.clock(),
		RemoteLastUpdate: remoteLastUpdate,
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal download log %s: %w", datasetID, err)
	}
	if err := m.store.Set(ctx, keyPrefixDlog+datasetID, raw); err != nil {
		cacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("store download log %s: %w", datasetID, err)
	}
	return nil
}

// DownloadLog returns the recorded download for a dataset.
func (m *Manager) DownloadLog(ctx context.Context, datasetID string) (*DownloadLogEntry, error) {
	raw, err := m.store.Get(ctx, keyPrefixDlog+datasetID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		cacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("get download log %s: %w", datasetID, err)
	}
	var entry DownloadLogEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal download log %s: %w", datasetID, err)
	}
	return &entry, nil
}

// NeedsUpdate compares the server's current last-update value to the logged
// one. A dataset with no log entry always needs an update.
func (m *Manager) NeedsUpdate(ctx context.Context, datasetID, remoteLastUpdate string) (bool, error) {
	entry, err := m.DownloadLog(ctx, datasetID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return true, nil
		}
		return false, err
	}
	if entry.RemoteLastUpdate == remoteLastUpdate {
		noUpdateTotal.Inc()
		m.logger.Info().
			Str("dataset_id", datasetID).
			Str("remote_last_update", remoteLastUpdate).
			Msg("No update available - skipping download")
		return false, nil
	}
	return true, nil
}

// SetClock overrides the time source (for testing).
func (m *Manager) SetClock(clock func() time.Time) {
	m.clock = clock
}

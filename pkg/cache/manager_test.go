package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestManager(t *testing.T) (*Manager, *time.Time) {
	t.Helper()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(NewMemoryStore(), DefaultConfig(), zerolog.Nop())
	m.SetClock(func() time.Time { return now })
	return m, &now
}

func TestComputeTTL_DeterministicAndBounded(t *testing.T) {
	m, _ := newTestManager(t)
	cfg := DefaultConfig()

	keys := []string{
		CodelistKey("CL_FREQ"),
		CodelistKey("CL_REF_AREA"),
		CodelistKey("CL_SEX"),
		DataflowCatalogKey,
		"codelist:CL_EDI",
	}
	for _, key := range keys {
		first := m.ComputeTTL(key)
		for i := 0; i < 5; i++ {
			if got := m.ComputeTTL(key); got != first {
				t.Fatalf("ComputeTTL(%q) not deterministic: %d != %d", key, got, first)
			}
		}
		if first < cfg.BaseTTLDays || first >= cfg.BaseTTLDays+cfg.JitterWindowDays {
			t.Errorf("ComputeTTL(%q) = %d, want in [%d, %d)", key, first,
				cfg.BaseTTLDays, cfg.BaseTTLDays+cfg.JitterWindowDays)
		}
	}
}

func TestPutGet_RoundTrip(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	key := CodelistKey("CL_FREQ")

	if err := m.Put(ctx, key, []byte(`{"M":"monthly"}`)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	payload, meta, err := m.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(payload) != `{"M":"monthly"}` {
		t.Errorf("payload = %s", payload)
	}
	if meta.TTLDays != m.ComputeTTL(key) {
		t.Errorf("TTLDays = %d, want %d", meta.TTLDays, m.ComputeTTL(key))
	}
	if meta.FirstDownload.IsZero() || meta.LastRefresh.IsZero() {
		t.Error("timestamps not set")
	}
}

func TestPut_PreservesFirstDownloadOnRefresh(t *testing.T) {
	m, now := newTestManager(t)
	ctx := context.Background()
	key := CodelistKey("CL_FREQ")

	if err := m.Put(ctx, key, []byte("v1")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	firstDownload := *now

	*now = now.Add(48 * time.Hour)
	if err := m.Put(ctx, key, []byte("v2")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	_, meta, err := m.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !meta.FirstDownload.Equal(firstDownload) {
		t.Errorf("FirstDownload = %v, want preserved %v", meta.FirstDownload, firstDownload)
	}
	if !meta.LastRefresh.Equal(*now) {
		t.Errorf("LastRefresh = %v, want advanced to %v", meta.LastRefresh, *now)
	}
}

func TestGet_Miss(t *testing.T) {
	m, _ := newTestManager(t)
	if _, _, err := m.Get(context.Background(), CodelistKey("CL_NOPE")); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestCheckExpiration(t *testing.T) {
	m, now := newTestManager(t)
	ctx := context.Background()

	fresh := CodelistKey("CL_FRESH")
	stale := CodelistKey("CL_STALE")
	if err := m.Put(ctx, stale, []byte("old")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	// Advance beyond the stale entry's TTL, then add a fresh entry.
	staleTTL := m.ComputeTTL(stale)
	*now = now.Add(time.Duration(staleTTL)*24*time.Hour + time.Hour)
	if err := m.Put(ctx, fresh, []byte("new")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	expired, err := m.CheckExpiration(ctx, []string{fresh, stale}, false)
	if err != nil {
		t.Fatalf("CheckExpiration() error = %v", err)
	}
	if len(expired) != 1 || expired[0] != stale {
		t.Errorf("expired = %v, want [%s]", expired, stale)
	}
}

func TestCheckExpiration_ForceTreatsAllAsExpired(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	keys := []string{CodelistKey("A"), CodelistKey("B")}
	for _, k := range keys {
		if err := m.Put(ctx, k, []byte("x")); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}

	expired, err := m.CheckExpiration(ctx, keys, true)
	if err != nil {
		t.Fatalf("CheckExpiration() error = %v", err)
	}
	if len(expired) != 2 {
		t.Errorf("expired = %v, want both keys", expired)
	}
}

func TestCheckExpiration_NilKeysChecksAll(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	if err := m.Put(ctx, CodelistKey("A"), []byte("x")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := m.Put(ctx, DataflowCatalogKey, []byte("y")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	expired, err := m.CheckExpiration(ctx, nil, true)
	if err != nil {
		t.Fatalf("CheckExpiration() error = %v", err)
	}
	if len(expired) != 2 {
		t.Errorf("expired = %v, want all cached keys", expired)
	}
}

func TestRefresh_OnlyExpiredSubset(t *testing.T) {
	m, now := newTestManager(t)
	ctx := context.Background()

	stale := CodelistKey("CL_STALE")
	fresh := CodelistKey("CL_FRESH")
	if err := m.Put(ctx, stale, []byte("old")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	*now = now.Add(time.Duration(m.ComputeTTL(stale))*24*time.Hour + time.Hour)
	if err := m.Put(ctx, fresh, []byte("new")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	var fetched []string
	refreshed, err := m.Refresh(ctx, []string{stale, fresh}, false, func(_ context.Context, key string) ([]byte, error) {
		fetched = append(fetched, key)
		return []byte("refreshed"), nil
	})
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if len(fetched) != 1 || fetched[0] != stale {
		t.Errorf("fetched = %v, want only the expired key", fetched)
	}
	if len(refreshed) != 1 || refreshed[0] != stale {
		t.Errorf("refreshed = %v, want [%s]", refreshed, stale)
	}

	payload, meta, err := m.Get(ctx, stale)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(payload) != "refreshed" {
		t.Errorf("payload = %s, want refreshed", payload)
	}
	if !meta.LastRefresh.Equal(*now) {
		t.Errorf("LastRefresh = %v, want %v", meta.LastRefresh, *now)
	}
}

func TestRefresh_FetchFailureKeepsStaleEntry(t *testing.T) {
	m, now := newTestManager(t)
	ctx := context.Background()
	key := CodelistKey("CL_X")
	if err := m.Put(ctx, key, []byte("stale")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	*now = now.Add(365 * 24 * time.Hour)

	refreshed, err := m.Refresh(ctx, []string{key}, false, func(context.Context, string) ([]byte, error) {
		return nil, fmt.Errorf("service unavailable")
	})
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if len(refreshed) != 0 {
		t.Errorf("refreshed = %v, want none", refreshed)
	}

	payload, _, err := m.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(payload) != "stale" {
		t.Errorf("payload = %s, want stale entry kept", payload)
	}
}

func TestEvict(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	key := CodelistKey("CL_X")
	if err := m.Put(ctx, key, []byte("x")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := m.Evict(ctx, key); err != nil {
		t.Fatalf("Evict() error = %v", err)
	}
	if _, _, err := m.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("error after evict = %v, want ErrNotFound", err)
	}
}

func TestCodelistRefs_SharedAcrossDatasets(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	// Two datasets reference the same codelist; the codelist payload is
	// stored once under its own id.
	if err := m.Put(ctx, CodelistKey("CL_FREQ"), []byte("freq")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := m.SetCodelistRefs(ctx, "150_908", []string{"CL_FREQ", "CL_REF_AREA"}); err != nil {
		t.Fatalf("SetCodelistRefs() error = %v", err)
	}
	if err := m.SetCodelistRefs(ctx, "150_915", []string{"CL_FREQ"}); err != nil {
		t.Fatalf("SetCodelistRefs() error = %v", err)
	}

	refs, err := m.CodelistRefs(ctx, "150_908")
	if err != nil {
		t.Fatalf("CodelistRefs() error = %v", err)
	}
	if len(refs) != 2 {
		t.Errorf("refs = %v, want 2 codelists", refs)
	}

	keys, err := m.AllKeys(ctx)
	if err != nil {
		t.Fatalf("AllKeys() error = %v", err)
	}
	if len(keys) != 1 {
		t.Errorf("cached entries = %v, want single shared codelist", keys)
	}
}

func TestDownloadLog_RecordAndNeedsUpdate(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	// No log entry yet: always needs update.
	needs, err := m.NeedsUpdate(ctx, "150_908", "2025-02-20")
	if err != nil {
		t.Fatalf("NeedsUpdate() error = %v", err)
	}
	if !needs {
		t.Error("NeedsUpdate = false for unlogged dataset")
	}

	if err := m.RecordDownload(ctx, "150_908", "2025-02-20"); err != nil {
		t.Fatalf("RecordDownload() error = %v", err)
	}

	// Unchanged remote timestamp: no update available.
	needs, err = m.NeedsUpdate(ctx, "150_908", "2025-02-20")
	if err != nil {
		t.Fatalf("NeedsUpdate() error = %v", err)
	}
	if needs {
		t.Error("NeedsUpdate = true for unchanged remote timestamp")
	}

	// Changed remote timestamp: update needed.
	needs, err = m.NeedsUpdate(ctx, "150_908", "2025-03-01")
	if err != nil {
		t.Fatalf("NeedsUpdate() error = %v", err)
	}
	if !needs {
		t.Error("NeedsUpdate = false for changed remote timestamp")
	}
}

func TestDownloadLog_OverwrittenPerDataset(t *testing.T) {
	m, now := newTestManager(t)
	ctx := context.Background()

	if err := m.RecordDownload(ctx, "150_908", "2025-01-01"); err != nil {
		t.Fatalf("RecordDownload() error = %v", err)
	}
	*now = now.Add(24 * time.Hour)
	if err := m.RecordDownload(ctx, "150_908", "2025-02-01"); err != nil {
		t.Fatalf("RecordDownload() error = %v", err)
	}

	entry, err := m.DownloadLog(ctx, "150_908")
	if err != nil {
		t.Fatalf("DownloadLog() error = %v", err)
	}
	if entry.RemoteLastUpdate != "2025-02-01" {
		t.Errorf("RemoteLastUpdate = %s, want overwritten value", entry.RemoteLastUpdate)
	}
	if !entry.DownloadedAt.Equal(*now) {
		t.Errorf("DownloadedAt = %v, want %v", entry.DownloadedAt, *now)
	}
}
